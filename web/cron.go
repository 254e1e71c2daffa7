package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CronOnly guards scheduler endpoints with a bearer secret. An empty secret
// leaves them open.
func (h *Handler) CronOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cronSecret == "" {
			next.ServeHTTP(w, r)

			return
		}

		supplied, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(supplied), []byte(h.cronSecret)) != 1 {
			h.writeError(w, r, errCronUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}
