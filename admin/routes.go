package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

var errUnsupportedCompression = errors.New("unsupported compression, use compress=zstd")

// RegisterRoutes registers the diagnostics endpoints under /diagnostics
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers, secret string) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(secret))

	r.Get("/stats", handlers.handleStats)
	r.Get("/sources", handlers.handleSources)
	r.Get("/snapshot", handlers.handleSnapshot)

	mux.Handle("/diagnostics", http.RedirectHandler("/diagnostics/", http.StatusMovedPermanently))
	mux.Handle("/diagnostics/", http.StripPrefix("/diagnostics", r))

	log.Info().Msg("Admin endpoints enabled at /diagnostics/*")
}
