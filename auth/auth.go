/*
Package auth provides functions for validating JWTs sent by the frontend, and
for minting the capability tokens handed to freshly created workspace
machines. Inbound tokens are expected to be signed with the RS256 algorithm
by our Auth0 configuration.
*/
package auth // import "github.com/helixhq/helix/backend/services/auth"

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	logger "github.com/helixhq/helix/backend/services/helixlogger"
	"github.com/helixhq/helix/backend/services/types"
	"github.com/helixhq/helix/backend/services/utils"
)

// Scopes is an alias for []string with some custom deserialization behavior.
// It is used to store the value of an access token's "scope" claim, which is
// a string of one or more space-separated words.
type Scopes []string

// HelixClaims models the claims that must be present in an Auth0-issued
// access token. The subject claim carries the user id that the rest of the
// session service keys volumes and session mappings on.
type HelixClaims struct {
	jwt.RegisteredClaims

	// Scopes stores the value of the access token's "scope" claim.
	Scopes Scopes `json:"scope"`
}

var config authConfig = getAuthConfig()

var (
	jwks     *keyfunc.JWKS
	jwksOnce sync.Once
	jwksErr  error
)

// setupJWKS fetches the JWKS from the authentication provider. It is done
// lazily (rather than in an init function) so that tests and local runs never
// touch the network.
func setupJWKS() {
	refreshInterval := time.Hour * 1

	jwks, jwksErr = keyfunc.Get(config.getJwksURL(), keyfunc.Options{
		RefreshInterval:   refreshInterval,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Errorf("error refreshing JWKS: %s", err)
		},
	})
	if jwksErr == nil {
		logger.Infof("Successfully got JWKS from %s.", config.getJwksURL())
	}
}

// ParseToken parses a raw access token string and verifies the token's
// signature against the authentication provider's JWKS. It returns a pointer
// to a HelixClaims type containing the values of its claims if successful.
func ParseToken(accessToken types.AccessToken) (*HelixClaims, error) {
	jwksOnce.Do(setupJWKS)
	if jwksErr != nil {
		return nil, utils.MakeError("couldn't get JWKS from %s: %s", config.getJwksURL(), jwksErr)
	}

	claims := new(HelixClaims)
	_, err := jwt.ParseWithClaims(string(accessToken), claims, jwks.Keyfunc)
	if err != nil {
		return nil, err
	}

	return claims, nil
}

// Verify ensures that the parsed claims were issued by the proper issuer for
// the proper audience.
func Verify(claims *HelixClaims) error {
	if !claims.VerifyAudience(config.Aud, true) {
		return utils.MakeError("bad audience %v", claims.Audience)
	}

	if !claims.VerifyIssuer(config.Iss, true) {
		return utils.MakeError("bad issuer %s", claims.Issuer)
	}

	return nil
}

// UserID returns the user id the token was issued for.
func (claims *HelixClaims) UserID() types.UserID {
	return types.UserID(claims.Subject)
}

// VerifyScope returns true if claims.Scopes contains the requested scope and
// false otherwise.
func (claims *HelixClaims) VerifyScope(scope string) bool {
	return utils.StringSliceContains(claims.Scopes, scope)
}

// UnmarshalJSON unmarshals a space-separated string of words into a *Scopes
// type. It overwrites the contents of *scopes with the unmarshalled data.
func (scopes *Scopes) UnmarshalJSON(data []byte) error {
	var s string

	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	*scopes = append((*scopes)[0:0], strings.Fields(s)...)

	return nil
}
