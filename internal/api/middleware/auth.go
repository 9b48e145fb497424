package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bloodlift/bloodlift/internal/api/models"
	"github.com/bloodlift/bloodlift/internal/auth"
)

type operatorKey struct{}

// TokenValidator validates operator bearer tokens. *auth.JWTService
// satisfies it.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Auth creates authentication middleware that validates operator bearer
// tokens and stores the claims in the request context.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if len(authHeader) < len(bearerPrefix) ||
				!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(authHeader[len(bearerPrefix):])
			if tokenString == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := validator.Validate(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrAccessTokenExpired):
					writeUnauthorized(w, r, "access token has expired")
				case errors.Is(err, auth.ErrInvalidAccessToken):
					writeUnauthorized(w, r, "invalid access token")
				default:
					writeUnauthorized(w, r, "authentication failed")
				}
				return
			}

			recordOperator(w, claims.OperatorID(), claims.Role)
			trace.SpanFromContext(r.Context()).SetAttributes(
				attribute.String("operator.id", claims.OperatorID()),
				attribute.String("operator.role", claims.Role),
			)

			ctx := context.WithValue(r.Context(), operatorKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireDispatcher rejects operators whose role may not change delivery
// state. It must run after Auth.
func RequireDispatcher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetOperator(r.Context())
		if claims == nil {
			writeUnauthorized(w, r, "authentication required")
			return
		}
		if !claims.CanDispatch() {
			models.NewForbidden(GetRequestID(r.Context()), "dispatcher role required").
				WithInstance(r.URL.Path).
				Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeUnauthorized is here rather than in response to avoid an import cycle.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="bloodlift"`)
	models.NewUnauthorized(GetRequestID(r.Context()), detail).
		WithInstance(r.URL.Path).
		Write(w)
}

// GetOperator returns the authenticated operator's claims, or nil.
func GetOperator(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(operatorKey{}).(*auth.Claims)
	return claims
}

// GetOperatorID returns the authenticated operator ID, or an empty string.
func GetOperatorID(ctx context.Context) string {
	if claims := GetOperator(ctx); claims != nil {
		return claims.OperatorID()
	}
	return ""
}
