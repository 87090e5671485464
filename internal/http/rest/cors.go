package rest

import (
	"net/http"

	"github.com/go-chi/cors"
)

// corsHandler lets the configured browser origins call the API and answers
// preflight requests.
func (h *RelayHandler) corsHandler() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-ID"},
		MaxAge:         300,
	})
}
