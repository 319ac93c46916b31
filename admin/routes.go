package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers all admin API routes under /admin/
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	r.Get("/status", handlers.handleStatus)
	r.Get("/watermark", handlers.handleWatermark)

	r.Post("/cycle", handlers.handleCycle)
	r.Post("/test", handlers.handleTestMessage)
	r.Post("/message", handlers.handleMessage)

	r.Post("/events", handlers.handleAppendEvents)

	// Mount chi router under /admin
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Bool("journal", handlers.journal != nil).Msg("Admin endpoints enabled at /admin/*")
}
