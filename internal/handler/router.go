package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmeshcher/smm-panel/internal/middleware"
	"github.com/mmeshcher/smm-panel/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware панели.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(h.logger))

	// promhttp сжимает ответ сам.
	r.Handle("/metrics", promhttp.Handler())

	r.With(middleware.GzipMiddleware).Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/services", h.ListServices)

			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders", h.GetOrders)
			r.Post("/orders/mass", h.PlaceMassOrder)
			r.Post("/orders/cancel", h.CancelOrders)
			r.Get("/orders/{orderID}", h.GetOrder)

			r.Post("/refills", h.RequestRefill)
			r.Post("/refills/bulk", h.RequestMultipleRefills)
			r.Post("/refills/status", h.CheckRefillStatuses)
			r.Get("/refills/{refillID}", h.GetRefill)

			r.Get("/transactions", h.GetTransactions)
			r.Get("/dashboard", h.GetDashboard)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(h.service.UserRole, model.RoleAdmin))

				r.Post("/users/{userID}/credit", h.CreditUser)
				r.Get("/intents", h.ListOpenIntents)
				r.Post("/intents/{key}/reconcile", h.ReconcileIntent)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
