package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/settlement-ledger/api/responses"
)

// CORS lets the operator console call the API from the configured origins.
// Without configured origins only the local console is allowed.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader, responses.RequestIDHeader},
		ExposedHeaders: []string{responses.RequestIDHeader, ReplayedHeader},
		// bearer tokens only, no cookies
		AllowCredentials: false,
		MaxAge:           300,
	})
}
