package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/coronasafe/care-abdm/internal/apitoken"
)

// TokenValidator validates local API bearer tokens.
type TokenValidator interface {
	Validate(tokenString string) (*apitoken.Claims, error)
}

type contextKeyFacilityID struct{}
type contextKeyOperator struct{}

// GetFacilityID retrieves the authenticated facility from the context.
func GetFacilityID(ctx context.Context) string {
	id, ok := ctx.Value(contextKeyFacilityID{}).(string)
	if !ok {
		return ""
	}
	return id
}

// GetOperator retrieves the authenticated operator from the context.
func GetOperator(ctx context.Context) string {
	op, ok := ctx.Value(contextKeyOperator{}).(string)
	if !ok {
		return ""
	}
	return op
}

// RequireAuth guards the local API routes. Gateway callback routes are not
// behind it; the gateway authenticates those with its own signature scheme.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := chimiddleware.GetReqID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access, missing token",
					"request_id", requestID,
				)
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access, invalid token",
					"request_id", requestID,
					"error", err,
				)
				unauthorized(w, "Invalid or expired token")
				return
			}

			ctx = context.WithValue(ctx, contextKeyFacilityID{}, claims.FacilityID)
			ctx = context.WithValue(ctx, contextKeyOperator{}, claims.Operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
