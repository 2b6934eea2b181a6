package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/orderflow/platform/health/http"
	platformobservability "github.com/shestoi/orderflow/platform/observability"
)

// NewRouter роутер Notification Service: webhook алертов, /health и /metrics.
// POST /alerts оставлен как короткий алиас /alerts/alertmanager.
func NewRouter(alerts *AlertmanagerHandler, logger *zap.Logger, metrics http.Handler, checks ...platformhealth.Check) chi.Router {
	router := chi.NewRouter()

	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("notification", logger))
	}

	router.Method(http.MethodPost, "/alerts", alerts)
	router.Method(http.MethodPost, "/alerts/alertmanager", alerts)
	router.Get("/health", platformhealth.Handler("notification", checks...))
	if metrics != nil {
		router.Handle("/metrics", metrics)
	}

	return router
}
