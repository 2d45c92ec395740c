package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/servicedesk/internal/auth"
)

// RequireOperator checks the bearer token against bcrypt hashes of the
// configured operator tokens. With no hashes configured every request passes
// through without an operator.
func RequireOperator(tokenHashes []string, logger *slog.Logger) func(http.Handler) http.Handler {
	hashes := make([][]byte, len(tokenHashes))
	for i, h := range tokenHashes {
		hashes[i] = []byte(h)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(hashes) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			for i, h := range hashes {
				if bcrypt.CompareHashAndPassword(h, []byte(token)) == nil {
					op := auth.Operator{ID: int64(i + 1), RequestID: RequestID(r.Context())}
					next.ServeHTTP(w, r.WithContext(auth.WithOperator(r.Context(), op)))
					return
				}
			}

			logger.Warn("rejected operator token", "path", r.URL.Path, "remote", RealIP(r))
			unauthorized(w, "invalid bearer token")
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="servicedesk"`)
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
