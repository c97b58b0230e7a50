package machines // import "github.com/helixhq/helix/backend/services/machines"

import (
	"time"

	"github.com/helixhq/helix/backend/services/types"
)

// A MachineState represents a possible lifecycle state reported by the
// provisioning API for a machine. The remote API is the authoritative source
// for these; we only ever observe them, never infer them locally.
type MachineState string

// These represent the currently-defined machine states.
const (
	MachineStateCreated    MachineState = "created"
	MachineStateStarting   MachineState = "starting"
	MachineStateStarted    MachineState = "started"
	MachineStateStopping   MachineState = "stopping"
	MachineStateStopped    MachineState = "stopped"
	MachineStateReplacing  MachineState = "replacing"
	MachineStateDestroying MachineState = "destroying"
	MachineStateDestroyed  MachineState = "destroyed"
)

// Machine is a remote workspace compute unit as reported by the
// provisioning API.
type Machine struct {
	ID        types.MachineID       `json:"id"`
	Name      types.MachineName     `json:"name"`
	State     MachineState          `json:"state"`
	Region    types.PlacementRegion `json:"region"`
	PrivateIP string                `json:"private_ip"`
	Config    MachineConfig         `json:"config"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Volume is a durable storage unit bound to exactly one user for the
// lifetime of that user's account.
type Volume struct {
	ID        types.VolumeID        `json:"id"`
	Name      string                `json:"name"`
	State     string                `json:"state"`
	SizeGb    int                   `json:"size_gb"`
	Region    types.PlacementRegion `json:"region"`
	Encrypted bool                  `json:"encrypted"`
	CreatedAt time.Time             `json:"created_at"`
}

// MachineConfig describes the guest a machine should boot.
type MachineConfig struct {
	Image       types.ImageID     `json:"image"`
	Restart     RestartConfig     `json:"restart"`
	AutoDestroy bool              `json:"auto_destroy"`
	Guest       GuestConfig       `json:"guest"`
	Env         map[string]string `json:"env,omitempty"`
	Mounts      []MountConfig     `json:"mounts,omitempty"`
	Services    []ServiceConfig   `json:"services,omitempty"`
}

// RestartConfig controls what the provisioning API does when the workspace
// process exits.
type RestartConfig struct {
	Policy string `json:"policy"`
}

// GuestConfig is the hardware sizing for a machine.
type GuestConfig struct {
	CPUKind  string `json:"cpu_kind"`
	CPUs     int    `json:"cpus"`
	MemoryMb int    `json:"memory_mb"`
}

// MountConfig attaches a volume to a path inside the machine.
type MountConfig struct {
	Volume types.VolumeID `json:"volume"`
	Path   string         `json:"path"`
}

// ServiceConfig exposes an internal port through the provisioning API's edge.
type ServiceConfig struct {
	Ports        []PortConfig `json:"ports"`
	Protocol     string       `json:"protocol"`
	InternalPort int          `json:"internal_port"`
}

// PortConfig is one edge port and its connection handlers.
type PortConfig struct {
	Port     int      `json:"port"`
	Handlers []string `json:"handlers"`
}

// CreateMachineRequest is the payload for CreateMachine. The name acts as
// the idempotency key: callers must derive a fresh one for every create
// attempt so that accidental duplicates are distinguishable and cleanable,
// never silently merged.
type CreateMachineRequest struct {
	Name   types.MachineName `json:"name"`
	Config MachineConfig     `json:"config"`
}

// CreateVolumeRequest is the payload for CreateVolume. The name embeds the
// owning user and a creation timestamp for traceability, not uniqueness
// enforcement.
type CreateVolumeRequest struct {
	Name   string                `json:"name"`
	SizeGb int                   `json:"size_gb"`
	Region types.PlacementRegion `json:"region"`
}
