// Package auth issues and validates operator access tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Operators authenticate with short-lived HS256 bearer tokens minted
// out of band (dispatchctl token). There are no refresh tokens; an
// expired token is replaced by issuing a new one.

// DefaultTokenTTL is how long operator tokens are valid.
const DefaultTokenTTL = 8 * time.Hour

// Operator roles.
const (
	RoleDispatcher = "dispatcher"
	RoleViewer     = "viewer"
)

// Predefined JWT errors.
var (
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrAccessTokenExpired = errors.New("access token has expired")
	ErrMissingSigningKey  = errors.New("signing key is required")
	ErrUnknownRole        = errors.New("unknown role")
)

// Claims are the claims carried by operator access tokens.
type Claims struct {
	jwt.RegisteredClaims

	// Role is the operator's role.
	Role string `json:"role"`
}

// OperatorID returns the token subject.
func (c *Claims) OperatorID() string {
	return c.Subject
}

// CanDispatch reports whether the operator may change delivery state.
func (c *Claims) CanDispatch() bool {
	return c.Role == RoleDispatcher
}

// JWTConfig holds configuration for the JWT service.
type JWTConfig struct {
	// SigningKey is the secret key used to sign JWTs.
	SigningKey string

	// Issuer is the issuer claim (default: "bloodlift").
	Issuer string

	// Audience is the audience claim (default: "bloodlift-dispatch").
	Audience string

	// TTL is the token lifetime (default: DefaultTokenTTL).
	TTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// JWTService handles JWT creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

// NewJWTService creates a new JWT service.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.SigningKey == "" {
		return nil, ErrMissingSigningKey
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "bloodlift"
	}
	audience := cfg.Audience
	if audience == "" {
		audience = "bloodlift-dispatch"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &JWTService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
		now:        now,
	}, nil
}

// Issue creates an access token for operatorID with role.
func (s *JWTService) Issue(operatorID, role string) (string, time.Time, error) {
	if operatorID == "" {
		return "", time.Time{}, fmt.Errorf("%w: operator id is required", ErrInvalidAccessToken)
	}
	if role != RoleDispatcher && role != RoleViewer {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   operatorID,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate validates an access token and returns its claims.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidAccessToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidAccessToken
	}

	return claims, nil
}
