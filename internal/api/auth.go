package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ValidateToken returns true if provided matches want in constant time.
func ValidateToken(provided, want string) bool {
	if want == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(want)) == 1
}

// ExtractToken extracts a token from an Authorization: Bearer <token> header.
func ExtractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("invalid Authorization header format")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("missing token")
	}
	return token, nil
}

// authMiddleware enforces the bearer token when one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := ExtractToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !ValidateToken(token, s.config.Token) {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
