// Package types contains the shared identifier types passed between the
// session service packages. We define this package separately so that we can
// safely pass these types around to other packages without creating import
// cycles.
package types // import "github.com/helixhq/helix/backend/services/types"

// We define special types for the following string types for all the benefits
// of type safety, including making sure we never mix up user ids and session
// ids, for instance.

type (
	// UserID is the id assigned to a user by the authentication provider
	// (Auth0). It is the stable identity a volume is bound to.
	UserID string

	// SessionID is an opaque id created by the frontend for each browser
	// conversation context. A user can hold several sessions (tabs) at once,
	// all of which should resolve to the same workspace machine.
	SessionID string

	// MachineID is the unique id the provisioning API assigns to a workspace
	// machine. It is never minted locally.
	MachineID string

	// MachineName is the name the session service gives a machine at creation
	// time. Names embed the user id and a fresh suffix so that duplicate
	// creates are distinguishable in the control plane, never silently merged.
	MachineName string

	// VolumeID is the unique id the provisioning API assigns to a persistent
	// storage volume.
	VolumeID string

	// ImageID is the OCI image reference a workspace machine boots from.
	ImageID string

	// PlacementRegion is the region where the compute resources for a machine
	// or volume exist.
	PlacementRegion string

	// AccessToken is a JWT created by the authentication provider and used to
	// authenticate the user to the session service.
	AccessToken string
)
