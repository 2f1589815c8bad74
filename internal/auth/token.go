// Package auth decodes and issues signed bearer tokens and evaluates
// read/write/admin permission grants against document ids, per spec
// §4.2. Verification failures are intentionally opaque at the wire
// boundary (§7): every subcondition collapses to a single bool here,
// and the hub is the only place that turns that into INVALID_TOKEN.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Permissions is the triple carried by an access token's claims.
type Permissions struct {
	CanRead  []string `json:"canRead"`
	CanWrite []string `json:"canWrite"`
	IsAdmin  bool     `json:"isAdmin"`
}

// CanReadDocument implements the grant rule of §4.2: admin, wildcard,
// or an exact match — no prefix matching.
func (p Permissions) CanReadDocument(docID string) bool {
	return p.IsAdmin || containsGrant(p.CanRead, docID)
}

// CanWriteDocument mirrors CanReadDocument for the write capability.
func (p Permissions) CanWriteDocument(docID string) bool {
	return p.IsAdmin || containsGrant(p.CanWrite, docID)
}

func containsGrant(grants []string, docID string) bool {
	for _, g := range grants {
		if g == "*" || g == docID {
			return true
		}
	}
	return false
}

// Payload is the decoded form of a verified access token.
type Payload struct {
	UserID      string
	Email       string
	Permissions Permissions
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// accessClaims is the JWT claim shape signed/verified for access tokens.
type accessClaims struct {
	jwt.RegisteredClaims
	UserID      string      `json:"userId"`
	Email       string      `json:"email,omitempty"`
	Permissions Permissions `json:"permissions"`
}

// refreshClaims is the JWT claim shape for refresh tokens: user id and
// standard times only, per §4.2.
type refreshClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

// Verifier decodes and validates signed bearer tokens against a shared
// secret using HS256.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a Verifier bound to the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify decodes and validates an access token. Any failure — bad
// signature, expired token, missing required claims, or any decoding
// error — is folded into a single `ok=false`; the subcondition is
// never surfaced to the caller, per §4.2 and §7.
func (v *Verifier) Verify(token string) (Payload, bool) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Payload{}, false
	}
	if claims.UserID == "" {
		return Payload{}, false
	}

	payload := Payload{
		UserID:      claims.UserID,
		Email:       claims.Email,
		Permissions: claims.Permissions,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}
	return payload, true
}

// VerifyRefreshToken decodes a refresh token, which carries only a
// user id and standard times (no permissions). Supplements the
// distillation with the refresh-token verification path present in
// the original Python rbac module.
func (v *Verifier) VerifyRefreshToken(token string) (string, bool) {
	var claims refreshClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid || claims.UserID == "" {
		return "", false
	}
	return claims.UserID, true
}

// IssueAccessToken signs a new access token for the given user,
// permissions, and lifetime. Lifetime defaults to 24h when zero.
func (v *Verifier) IssueAccessToken(userID, email string, perms Permissions, lifetime time.Duration) (string, error) {
	if lifetime == 0 {
		lifetime = 24 * time.Hour
	}
	now := time.Now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
		UserID:      userID,
		Email:       email,
		Permissions: perms,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// IssueRefreshToken signs a new refresh token. Lifetime defaults to 7
// days when zero.
func (v *Verifier) IssueRefreshToken(userID string, lifetime time.Duration) (string, error) {
	if lifetime == 0 {
		lifetime = 7 * 24 * time.Hour
	}
	now := time.Now()
	claims := refreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
		UserID: userID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
