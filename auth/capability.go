package auth // import "github.com/helixhq/helix/backend/services/auth"

import (
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/helixhq/helix/backend/services/metadata"
	"github.com/helixhq/helix/backend/services/types"
	"github.com/helixhq/helix/backend/services/utils"
)

// capabilityTokenLifetime bounds how long a freshly created machine can use
// its capability token to call back into the control plane. There is no
// revocation list; expiry is the only lifecycle bound, which is acceptable
// given the short practical lifetime of workspace machines.
const capabilityTokenLifetime = 24 * time.Hour

// CapabilityClaims is the self-contained assertion minted for a newly
// created workspace machine. It scopes access to a single user/machine pair
// and is signed with HMAC-SHA256; it is never persisted by this service.
type CapabilityClaims struct {
	jwt.RegisteredClaims

	UserID    types.UserID    `json:"user_id"`
	MachineID types.MachineID `json:"machine_id"`
}

// getCapabilitySecret returns the HMAC signing secret. Deployed environments
// must provide it through the environment; local runs fall back to a fixed
// development secret.
func getCapabilitySecret() (string, error) {
	secret := os.Getenv("CAPABILITY_TOKEN_SECRET")
	if secret != "" {
		return secret, nil
	}

	if metadata.IsLocalEnv() {
		return "helix-localdev-capability-secret", nil
	}

	return "", utils.MakeError("CAPABILITY_TOKEN_SECRET is uninitialized")
}

// IssueCapabilityToken mints a signed capability token for the given
// user/machine pair, expiring after 24 hours. Verification is an external
// concern (the machine or a gateway validates it); this function only signs.
func IssueCapabilityToken(userID types.UserID, machineID types.MachineID) (string, error) {
	secret, err := getCapabilitySecret()
	if err != nil {
		return "", utils.MakeError("couldn't issue capability token for user %s: %s", userID, err)
	}

	now := time.Now()
	claims := CapabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			// A random jti so tokens minted for the same pair within the same
			// second are still distinguishable in gateway logs.
			ID:        utils.RandHex(16),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(capabilityTokenLifetime)),
		},
		UserID:    userID,
		MachineID: machineID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", utils.MakeError("couldn't sign capability token for user %s: %s", userID, err)
	}

	return signed, nil
}
