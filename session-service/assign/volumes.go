package assign

import (
	"context"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v3"

	logger "github.com/helixhq/helix/backend/services/helixlogger"
	"github.com/helixhq/helix/backend/services/machines"
	"github.com/helixhq/helix/backend/services/session-service/config"
	"github.com/helixhq/helix/backend/services/types"
	"github.com/helixhq/helix/backend/services/utils"
)

// getOrCreateUserVolume returns the id of the user's volume, creating one
// lazily on first use. There is no volumes table: the user's volume is found
// by scanning their session mappings for any recorded volume id. Two
// concurrent first-resolves can race and each create a volume; the session
// mappings converge on one of them and the other is orphaned, which we
// accept instead of locking.
func (r *Resolver) getOrCreateUserVolume(ctx context.Context, userID types.UserID) (types.VolumeID, error) {
	mappings, err := r.Store.GetSessionsForUser(ctx, userID)
	if err != nil {
		return "", utils.MakeError("couldn't look up existing volumes for user %s: %s", userID, err)
	}

	for _, mapping := range mappings {
		if mapping.VolumeID != nil && *mapping.VolumeID != "" {
			logger.Infof("Using existing volume %s for user %s.", *mapping.VolumeID, userID)
			return *mapping.VolumeID, nil
		}
	}

	volume, err := r.Machines.CreateVolume(ctx, machines.CreateVolumeRequest{
		Name:   newVolumeName(userID),
		SizeGb: config.GetVolumeSizeGb(),
		Region: config.GetPlacementRegion(),
	})
	if err != nil {
		return "", utils.MakeError("couldn't create volume for user %s: %s", userID, err)
	}
	if volume.ID == "" {
		return "", utils.MakeError("created a volume for user %s but no id was returned", userID)
	}

	logger.Infof("Created new volume %s for user %s.", volume.ID, userID)
	return volume.ID, nil
}

// newVolumeName derives a fresh, traceable volume name for the user.
func newVolumeName(userID types.UserID) string {
	return utils.Sprintf("user-%s-%d", sanitizeNamePart(string(userID)), time.Now().UnixMilli())
}

// newMachineName derives a fresh machine name for the user. The trailing
// shortuuid makes every create attempt distinguishable, even within the same
// millisecond.
func newMachineName(userID types.UserID) types.MachineName {
	return types.MachineName(utils.Sprintf("workspace-%s-%d-%s", sanitizeNamePart(string(userID)), time.Now().UnixMilli(), strings.ToLower(shortuuid.New())))
}

// sanitizeNamePart makes a user id safe to embed in a machine or volume
// name, which only allow lowercase alphanumerics and dashes.
func sanitizeNamePart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, s)
}

// newMachineConfig builds the boot configuration for a fresh workspace
// machine: the configured image and guest sizing, the user's volume mounted
// at the workspace path, and the workspace port exposed through the edge.
func newMachineConfig(userID types.UserID, volumeID types.VolumeID) machines.MachineConfig {
	cpuKind, cpus, memoryMB := config.GetWorkspaceGuest()

	return machines.MachineConfig{
		Image: config.GetWorkspaceImage(),
		Restart: machines.RestartConfig{
			Policy: "no",
		},
		// Machines are disposable; volumes carry all durable state.
		AutoDestroy: true,
		Guest: machines.GuestConfig{
			CPUKind:  cpuKind,
			CPUs:     cpus,
			MemoryMb: memoryMB,
		},
		Env: map[string]string{
			"HELIX_USER_ID":   string(userID),
			"HELIX_WORKSPACE": config.GetWorkspaceMountPath(),
		},
		Mounts: []machines.MountConfig{
			{
				Volume: volumeID,
				Path:   config.GetWorkspaceMountPath(),
			},
		},
		Services: []machines.ServiceConfig{
			{
				Ports: []machines.PortConfig{
					{Port: 443, Handlers: []string{"tls", "http"}},
					{Port: 80, Handlers: []string{"http"}},
				},
				Protocol:     "tcp",
				InternalPort: config.GetWorkspaceInternalPort(),
			},
		},
	}
}
