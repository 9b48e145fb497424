package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlift/bloodlift/internal/auth"
)

const testKey = "test-secret-key-for-testing-only"

func newService(t *testing.T, cfg auth.JWTConfig) *auth.JWTService {
	t.Helper()
	if cfg.SigningKey == "" {
		cfg.SigningKey = testKey
	}
	svc, err := auth.NewJWTService(cfg)
	require.NoError(t, err)
	return svc
}

func TestJWTService_IssueAndValidate(t *testing.T) {
	svc := newService(t, auth.JWTConfig{})

	token, expiresAt, err := svc.Issue("op-kigali-1", auth.RoleDispatcher)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(auth.DefaultTokenTTL), expiresAt, time.Minute)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "op-kigali-1", claims.OperatorID())
	assert.Equal(t, auth.RoleDispatcher, claims.Role)
	assert.True(t, claims.CanDispatch())
	assert.Equal(t, "bloodlift", claims.Issuer)
}

func TestJWTService_ViewerCannotDispatch(t *testing.T) {
	svc := newService(t, auth.JWTConfig{})

	token, _, err := svc.Issue("op-2", auth.RoleViewer)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.False(t, claims.CanDispatch())
}

func TestJWTService_IssueValidation(t *testing.T) {
	svc := newService(t, auth.JWTConfig{})

	_, _, err := svc.Issue("", auth.RoleViewer)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)

	_, _, err = svc.Issue("op-1", "admin")
	assert.ErrorIs(t, err, auth.ErrUnknownRole)
}

func TestNewJWTService_RequiresKey(t *testing.T) {
	_, err := auth.NewJWTService(auth.JWTConfig{})
	assert.ErrorIs(t, err, auth.ErrMissingSigningKey)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := newService(t, auth.JWTConfig{})

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_WrongSigningKey(t *testing.T) {
	issuer := newService(t, auth.JWTConfig{SigningKey: "key-one"})
	validator := newService(t, auth.JWTConfig{SigningKey: "key-two"})

	token, _, err := issuer.Issue("op-1", auth.RoleDispatcher)
	require.NoError(t, err)

	_, err = validator.Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestJWTService_WrongAudience(t *testing.T) {
	issuer := newService(t, auth.JWTConfig{Audience: "other-service"})
	validator := newService(t, auth.JWTConfig{})

	token, _, err := issuer.Issue("op-1", auth.RoleDispatcher)
	require.NoError(t, err)

	_, err = validator.Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestJWTService_Expired(t *testing.T) {
	issued := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := issued
	svc := newService(t, auth.JWTConfig{TTL: time.Hour, Now: func() time.Time { return clock }})

	token, _, err := svc.Issue("op-1", auth.RoleDispatcher)
	require.NoError(t, err)

	clock = issued.Add(2 * time.Hour)
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, auth.ErrAccessTokenExpired)
}

func TestJWTService_RejectsNoneAlgorithm(t *testing.T) {
	svc := newService(t, auth.JWTConfig{})

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "bloodlift",
			Subject:   "op-1",
			Audience:  jwt.ClaimStrings{"bloodlift-dispatch"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: auth.RoleDispatcher,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}
