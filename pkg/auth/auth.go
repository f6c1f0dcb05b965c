// Package auth verifies bearer session tokens and resolves the calling user.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"guidekit/pkg/config"
)

// LocalDevUser is the identity every request gets when auth is disabled.
const LocalDevUser = "local-dev"

// leeway tolerates clock skew between the token issuer and this server.
const leeway = 30 * time.Second

// Verification errors.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Identity is an authenticated caller.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Verifier resolves a raw bearer token to an identity. An empty token
// returns ErrMissingToken.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// New builds the verifier for cfg.Mode.
func New(cfg *config.AuthConfig) (Verifier, error) {
	switch cfg.Mode {
	case config.AuthModeDisabled:
		return Disabled{}, nil
	case config.AuthModeJWT, "":
		secret, err := config.GetSecret(config.SecretJWTSecret)
		if err != nil {
			return nil, fmt.Errorf("jwt auth needs %s: %w", config.SecretJWTSecret, err)
		}
		return NewJWTVerifier([]byte(secret), cfg.Issuer, cfg.Audience)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Disabled accepts every request as LocalDevUser.
type Disabled struct{}

// Verify always succeeds.
func (Disabled) Verify(string) (*Identity, error) {
	return &Identity{UserID: LocalDevUser, Role: "authenticated"}, nil
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// JWTVerifier checks HS256 session tokens signed with a shared secret.
type JWTVerifier struct {
	parser *jwt.Parser
	secret []byte
}

// NewJWTVerifier creates a verifier. Empty issuer or audience skips that check.
func NewJWTVerifier(secret []byte, issuer, audience string) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &JWTVerifier{parser: jwt.NewParser(opts...), secret: secret}, nil
}

// Verify validates signature, expiry and the optional issuer and audience,
// and returns the token subject as the user ID.
func (v *JWTVerifier) Verify(raw string) (*Identity, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}
	var claims sessionClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}
