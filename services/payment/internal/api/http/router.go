package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/orderflow/platform/health/http"
	platformobservability "github.com/shestoi/orderflow/platform/observability"
)

// NewRouter роутер Payment Service: операционное чтение платежей, /health и /metrics
func NewRouter(handler *Handler, logger *zap.Logger, metrics http.Handler, checks ...platformhealth.Check) chi.Router {
	router := chi.NewRouter()

	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("payment", logger))
	}

	router.Get("/payments/order/{orderId}", handler.GetByOrderID)
	router.Get("/health", platformhealth.Handler("payment", checks...))
	if metrics != nil {
		router.Handle("/metrics", metrics)
	}

	return router
}
