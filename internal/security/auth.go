package security

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/baechuer/notify-platform/internal/domain"
)

const minSecretLength = 20

// serviceNames are the worker identities allowed to post status updates.
var serviceNames = map[string]bool{
	"email-service": true,
	"push-service":  true,
}

// Claims is the JWT payload accepted on client-facing endpoints.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates the three credential forms the gateway accepts:
// user JWTs, API keys, and worker service tokens.
type Verifier struct {
	jwtSecret []byte
}

func NewVerifier(jwtSecret string) *Verifier {
	return &Verifier{jwtSecret: []byte(jwtSecret)}
}

// VerifyJWT parses and validates an HS256 token, returning its claims.
func (v *Verifier) VerifyJWT(tokenString string) (*Claims, error) {
	if len(v.jwtSecret) == 0 {
		return nil, domain.NewUnauthorized("jwt auth not configured")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, domain.NewUnauthorized("invalid token")
	}
	if !token.Valid {
		return nil, domain.NewUnauthorized("invalid token")
	}
	return claims, nil
}

// VerifyAPIKey accepts any key of plausible length. Key issuance and
// revocation live outside this service; the length check only rejects
// obviously malformed keys early.
func (v *Verifier) VerifyAPIKey(key string) error {
	if len(strings.TrimSpace(key)) < minSecretLength {
		return domain.NewUnauthorized("invalid api key")
	}
	return nil
}

// VerifyServiceToken validates a worker token of the form "name:secret".
// Returns the service name on success.
func (v *Verifier) VerifyServiceToken(token string) (string, error) {
	name, secret, ok := strings.Cut(token, ":")
	if !ok {
		return "", domain.NewUnauthorized("malformed service token")
	}
	if !serviceNames[name] {
		return "", domain.NewUnauthorized("unknown service")
	}
	if len(secret) < minSecretLength {
		return "", domain.NewUnauthorized("invalid service token")
	}
	return name, nil
}
