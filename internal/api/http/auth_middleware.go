package httpapi

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// requireAPIKey checks the management key against its bcrypt hash. Without a
// configured hash the management API rejects every request.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.managementKeyHash) == 0 {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "management API key not configured")
			return
		}
		key := extractAPIKey(r)
		if key == "" {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing API key")
			return
		}
		if err := bcrypt.CompareHashAndPassword(s.managementKeyHash, []byte(key)); err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}
