package auth

import "fmt"

// DefaultDevelopmentSecret is the built-in placeholder secret. Running
// in production with this exact value must fail startup (§4.2).
const DefaultDevelopmentSecret = "development placeholder"

const minProductionSecretLength = 32

// ValidateSecret enforces the production secret rules of §4.2: a
// production environment must not use the default placeholder, and
// must use a secret of at least 32 bytes. Outside production these
// are warnings (returned as a non-empty warning string, not an error).
func ValidateSecret(environment, secret string) (warning string, err error) {
	production := environment == "production"

	if production && secret == DefaultDevelopmentSecret {
		return "", fmt.Errorf("auth: JWT_SECRET must not be the default placeholder in production")
	}
	if production && len(secret) < minProductionSecretLength {
		return "", fmt.Errorf("auth: JWT_SECRET must be at least %d bytes in production", minProductionSecretLength)
	}

	if !production {
		if secret == DefaultDevelopmentSecret {
			warning = "JWT_SECRET is the default placeholder; set a real secret before deploying"
		} else if len(secret) < minProductionSecretLength {
			warning = fmt.Sprintf("JWT_SECRET is shorter than %d bytes; this is only acceptable outside production", minProductionSecretLength)
		}
	}
	return warning, nil
}
