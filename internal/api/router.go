package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts every endpoint. ws may be nil when no websocket hub is
// served.
func NewRouter(h *Handler, ws http.Handler, allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if ws != nil {
		r.Handle("/ws", ws)
	}

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/markets", h.ListMarkets)
	r.Get("/markets/{id}", h.GetMarket)
	r.Get("/markets/{id}/history", h.GetHistory)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/markets", h.CreateMarket)
		r.Post("/markets/{id}/orders", h.PlaceOrder)
		r.Post("/markets/{id}/resolve", h.ResolveMarket)
		r.Get("/markets/{id}/account", h.GetAccount)
	})

	return r
}
