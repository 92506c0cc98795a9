package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/yamazhen/soma-server/internal/server/auth"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// requireAccessToken rejects requests without a valid bearer token and
// stashes the parsed claims in the request context.
func (s *Server) requireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing access token"})
			return
		}

		claims, err := s.tokens.ParseAccessToken(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid access token"})
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claimsFrom returns the claims placed by requireAccessToken. Only valid
// on routes behind that middleware.
func claimsFrom(ctx context.Context) *auth.AccessClaims {
	claims, _ := ctx.Value(claimsKey).(*auth.AccessClaims)
	return claims
}
