package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/orderflow/platform/health/http"
	platformobservability "github.com/shestoi/orderflow/platform/observability"
)

// NewRouter создаёт и настраивает HTTP роутер для Order Service.
// checks проверяют зависимости (postgres, rabbitmq): если хоть одна падает, /health вернёт 503.
// metrics обслуживает /metrics; nil отключает endpoint.
func NewRouter(handler *Handler, logger *zap.Logger, metrics http.Handler, checks ...platformhealth.Check) chi.Router {
	router := chi.NewRouter()

	// Observability: trace context + span на каждый запрос, logger с trace_id в контексте
	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("order", logger))
	}

	router.Post("/checkout", handler.Checkout)
	router.Route("/orders", func(r chi.Router) {
		r.Get("/user/{userId}", handler.ListUserOrders)
		r.Get("/{id}", handler.GetOrder)
		r.Get("/{id}/status", handler.GetOrderStatus)
	})

	router.Get("/health", platformhealth.Handler("order", checks...))
	if metrics != nil {
		router.Handle("/metrics", metrics)
	}

	return router
}
