package auth

import (
	"net/http"
	"strings"

	"github.com/noah-isme/cart-pricing/internal/common"
)

// TokenParser turns a bearer token into a user id.
type TokenParser interface {
	ParseAccessToken(token string) (string, error)
}

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Parser TokenParser
}

// RequireAuth rejects requests without a valid bearer token and stores the
// token subject as the user id on the request context.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Parser == nil {
			common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "authentication not configured", nil)
			return
		}
		token := bearerToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing or invalid token", nil)
			return
		}
		userID, err := m.Parser.ParseAccessToken(token)
		if err != nil {
			if common.WriteAppError(w, err, http.StatusUnauthorized) {
				return
			}
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithUserID(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
