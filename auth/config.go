package auth // import "github.com/helixhq/helix/backend/services/auth"

import (
	"github.com/helixhq/helix/backend/services/metadata"
)

type authConfig struct {
	// JWT audience. Identifies the service that accepts the token.
	Aud string
	// JWT issuer. The issuing server.
	Iss string
}

func (a authConfig) getJwksURL() string {
	return a.Iss + ".well-known/jwks.json"
}

var authConfigDev = authConfig{
	Aud: "https://api.helix.dev",
	Iss: "https://helix-dev.us.auth0.com/",
}

var authConfigStaging = authConfig{
	Aud: "https://api.helix.dev",
	Iss: "https://helix-staging.us.auth0.com/",
}

var authConfigProd = authConfig{
	Aud: "https://api.helix.dev",
	Iss: "https://login.helix.dev/",
}

func getAuthConfig() authConfig {
	switch metadata.GetAppEnvironment() {
	case metadata.EnvDev:
		return authConfigDev
	case metadata.EnvStaging:
		return authConfigStaging
	case metadata.EnvProd:
		return authConfigProd
	default:
		return authConfigDev
	}
}
