/*
Package config provides functions for fetching configuration values from the
configuration database when the session service starts and for reading those
values while the session service is running. config.Initialize() should be
called as close as possible to the top of the main function.
*/
package config

import (
	"context"
	"sync"

	"github.com/helixhq/helix/backend/services/metadata"
	"github.com/helixhq/helix/backend/services/types"
)

// serviceConfig stores service-global configuration values.
type serviceConfig struct {
	// machinesAPIURL is the base URL of the workspace provisioning API.
	machinesAPIURL string

	// machinesAppName is the provisioning API app that owns all workspace
	// machines and volumes.
	machinesAppName string

	// workspaceImage is the container image that workspace machines boot.
	workspaceImage types.ImageID

	// workspaceCPUs and workspaceMemoryMB are the guest sizing for new
	// workspace machines.
	workspaceCPUKind  string
	workspaceCPUs     int
	workspaceMemoryMB int

	// workspaceMountPath is where a user's volume is mounted inside the
	// machine.
	workspaceMountPath string

	// workspaceInternalPort is the port the workspace process listens on
	// inside the machine.
	workspaceInternalPort int

	// volumeSizeGb is the size of newly created user volumes.
	volumeSizeGb int

	// placementRegion is the region all machines and volumes are placed in.
	// Volumes are region-bound, so this must not change for a deployed
	// environment without a migration.
	placementRegion types.PlacementRegion
}

// config is a singleton that stores service-global configuration values.
var config serviceConfig

// rw synchronizes access to the configuration singleton.
var rw sync.RWMutex

// Initialize populates the configuration singleton with values from the
// configuration database.
func Initialize(ctx context.Context, client GraphQLClient) error {
	if metadata.IsLocalEnvWithoutDB() {
		return initializeLocal(ctx, client)
	}

	return initialize(ctx, client)
}

// GetMachinesAPIURL returns the base URL of the workspace provisioning API.
func GetMachinesAPIURL() string {
	rw.RLock()
	defer rw.RUnlock()

	return config.machinesAPIURL
}

// GetMachinesAppName returns the provisioning API app that owns all
// workspace machines and volumes.
func GetMachinesAppName() string {
	rw.RLock()
	defer rw.RUnlock()

	return config.machinesAppName
}

// GetWorkspaceImage returns the container image that workspace machines
// boot.
func GetWorkspaceImage() types.ImageID {
	rw.RLock()
	defer rw.RUnlock()

	return config.workspaceImage
}

// GetWorkspaceGuest returns the guest sizing for new workspace machines.
func GetWorkspaceGuest() (cpuKind string, cpus int, memoryMB int) {
	rw.RLock()
	defer rw.RUnlock()

	return config.workspaceCPUKind, config.workspaceCPUs, config.workspaceMemoryMB
}

// GetWorkspaceMountPath returns where a user's volume is mounted inside the
// machine.
func GetWorkspaceMountPath() string {
	rw.RLock()
	defer rw.RUnlock()

	return config.workspaceMountPath
}

// GetWorkspaceInternalPort returns the port the workspace process listens on
// inside the machine.
func GetWorkspaceInternalPort() int {
	rw.RLock()
	defer rw.RUnlock()

	return config.workspaceInternalPort
}

// GetVolumeSizeGb returns the size of newly created user volumes.
func GetVolumeSizeGb() int {
	rw.RLock()
	defer rw.RUnlock()

	return config.volumeSizeGb
}

// GetPlacementRegion returns the region all machines and volumes are placed
// in.
func GetPlacementRegion() types.PlacementRegion {
	rw.RLock()
	defer rw.RUnlock()

	return config.placementRegion
}
