package assign

const (
	// These are all the possible reasons we would fail to resolve a workspace
	// for a user and return a 503 error

	// The user's volume could not be found or created
	VOLUME_PROVISIONING_FAILED = "VOLUME_PROVISIONING_FAILED"

	// The provisioning API rejected or failed the machine creation
	MACHINE_CREATION_FAILED = "MACHINE_CREATION_FAILED"

	// The session store could not be read or written
	STORE_UNAVAILABLE = "STORE_UNAVAILABLE"

	// A generic 503 error message
	SERVICE_UNAVAILABLE = "SERVICE_UNAVAILABLE"
)
