package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout ограничивает время одной проверки готовности
const checkTimeout = 2 * time.Second

// Check именованная проверка готовности зависимости (postgres, rabbitmq, redis)
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Response тело ответа /health
type Response struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Handler возвращает handler для health endpoint.
// 200 {"status":"ok"} если все проверки прошли, иначе 503 {"status":"not ready"}
// с текстом ошибки у упавшей проверки.
func Handler(service string, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := Response{Status: "ok", Service: service}
		code := http.StatusOK

		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Fn(ctx)
			cancel()

			if err != nil {
				resp.Checks[c.Name] = err.Error()
				resp.Status = "not ready"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}
