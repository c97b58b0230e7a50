package utils // import "github.com/helixhq/helix/backend/services/utils"

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandHex creates a hexadecimal string with the provided number of bytes of
// randomness. Therefore, the output string will have length 2 * numBytes.
func RandHex(numBytes uint8) string {
	b := make([]byte, numBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// The following two functions exist so that we don't have to import `fmt`
// into any other packages (so we don't accidentally log something using `fmt`
// functions instead of using the `helixlogger` equivalents that send
// information to Logz.io and Sentry).

// Sprintf creates a string from format string and args.
func Sprintf(format string, v ...interface{}) string {
	return fmt.Sprintf(format, v...)
}

// MakeError creates an error from format string and args.
func MakeError(format string, v ...interface{}) error {
	return fmt.Errorf(format, v...)
}
