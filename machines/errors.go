package machines // import "github.com/helixhq/helix/backend/services/machines"

import (
	"errors"

	"github.com/helixhq/helix/backend/services/utils"
)

// ErrMachineNotFound is returned by GetMachine when the provisioning API
// reports a 404 for the requested id. It is a normal, expected outcome for
// stale session mappings, so callers check for it with errors.Is and fall
// through instead of treating it as a fault.
var ErrMachineNotFound = errors.New("machine not found")

// APIError is a non-2xx response from the provisioning API, with the API's
// error body attached. These are unexpected rejections (e.g. quota exceeded)
// and are never retried automatically.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return utils.Sprintf("provisioning API error (%d): %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err means the requested machine doesn't exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMachineNotFound)
}
