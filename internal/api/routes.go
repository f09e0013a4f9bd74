package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Routes builds the HTTP surface
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if h.Hub != nil {
		r.Get("/ws", h.TradeFeed)
	}
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/orders", h.PlaceOrder)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Post("/items", h.CreateItem)
		r.Get("/items/{item}/orderbook", h.GetOrderBook)
		r.Get("/items/{item}/trades", h.GetTradeHistory)
		r.Get("/stats", h.GetStats)
	})

	return r
}
