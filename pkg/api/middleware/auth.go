// Package middleware provides HTTP middleware for the FlowDrop API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/flowdrop/flowdrop/pkg/api/auth"
	"github.com/flowdrop/flowdrop/pkg/api/handlers"
)

// JWTAuth validates the Authorization bearer token and stores the
// claims in the request context.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handlers.Unauthorized(w, "Missing authorization header")
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				handlers.Unauthorized(w, "Authorization header must be a bearer token")
				return
			}

			claims, err := jwtService.Validate(token)
			if err != nil {
				handlers.Unauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// RequireManager rejects requests from non-manager accounts. Must run
// after JWTAuth.
func RequireManager() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				handlers.Unauthorized(w, "Authentication required")
				return
			}
			if !claims.IsManager() {
				handlers.Forbidden(w, "Manager privileges required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
