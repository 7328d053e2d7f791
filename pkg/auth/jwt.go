// Package auth issues and validates the HS256 bearer tokens that guard the
// admin endpoints.
//
// Tokens carry the standard registered claims plus a roles list:
//   - sub: who the token was minted for
//   - roles: must contain "admin" for admin routes
//   - iss/exp/iat: validated with a small clock-skew tolerance
package auth

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/metrics"
)

// RoleAdmin grants access to the admin endpoints
const RoleAdmin = "admin"

// DefaultClockSkew is tolerated on exp and iat
const DefaultClockSkew = 30 * time.Second

var (
	ErrNoSecret      = stderrors.New("auth: signing secret not configured")
	ErrMissingToken  = stderrors.New("auth: missing bearer token")
	ErrInvalidToken  = stderrors.New("auth: invalid token")
	ErrForbiddenRole = stderrors.New("auth: required role not granted")
)

// Claims is the token payload
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether role was granted.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// JWTConfig configures the token service
type JWTConfig struct {
	Secret    string        `yaml:"secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	ClockSkew time.Duration `yaml:"clock_skew"`
}

// JWTValidator signs and validates tokens with one shared secret
type JWTValidator struct {
	secret    []byte
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	now       func() time.Time
	logger    logging.Logger
	metrics   metrics.Metrics
}

// NewJWTValidator creates a validator. It fails without a secret.
func NewJWTValidator(config JWTConfig, logger logging.Logger, m metrics.Metrics) (*JWTValidator, error) {
	if config.Secret == "" {
		return nil, ErrNoSecret
	}
	if m == nil {
		m = metrics.NewNop()
	}
	v := &JWTValidator{
		secret:    []byte(config.Secret),
		issuer:    config.Issuer,
		ttl:       config.TokenTTL,
		clockSkew: config.ClockSkew,
		now:       time.Now,
		logger:    logger.WithComponent("auth"),
		metrics:   m,
	}
	if v.ttl <= 0 {
		v.ttl = time.Hour
	}
	if v.clockSkew <= 0 {
		v.clockSkew = DefaultClockSkew
	}
	return v, nil
}

// GenerateToken mints a token for subject with the given roles.
func (jv *JWTValidator) GenerateToken(subject string, roles ...string) (string, error) {
	timer := jv.metrics.Time("jwt_generation_duration_seconds")
	defer timer.Stop()

	now := jv.now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    jv.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(jv.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jv.secret)
	if err != nil {
		jv.metrics.Inc("jwt_generation_errors_total")
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	jv.metrics.Inc("jwt_generation_total")
	jv.logger.Info("jwt_token_issued",
		"subject", subject,
		"roles", roles,
		"expires_at", claims.ExpiresAt.Time)
	return signed, nil
}

// ValidateToken parses and verifies a token string.
func (jv *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	timer := jv.metrics.Time("jwt_validation_duration_seconds")
	defer timer.Stop()

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(jv.clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(jv.now),
	}
	if jv.issuer != "" {
		opts = append(opts, jwt.WithIssuer(jv.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return jv.secret, nil
	}, opts...)
	if err != nil {
		jv.metrics.Inc("jwt_validation_errors_total", "reason", validationReason(err))
		jv.logger.Warn("jwt_validation_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	jv.metrics.Inc("jwt_validation_success_total")
	jv.logger.Debug("jwt_validation_successful", "subject", claims.Subject, "roles", claims.Roles)
	return claims, nil
}

// Authorize validates an Authorization header value and checks role.
func (jv *JWTValidator) Authorize(header, role string) (*Claims, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	claims, err := jv.ValidateToken(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	if !claims.HasRole(role) {
		jv.logger.Warn("jwt_role_denied", "subject", claims.Subject, "required_role", role)
		return nil, ErrForbiddenRole
	}
	return claims, nil
}

func validationReason(err error) string {
	switch {
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case stderrors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer"
	case stderrors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	}
	return "invalid"
}
