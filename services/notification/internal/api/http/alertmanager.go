package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/orderflow/services/notification/internal/sender"
)

// Alertmanager webhook payload (Prometheus Alertmanager API)
// https://prometheus.io/docs/alerting/latest/configuration/#webhook_config
type alertmanagerPayload struct {
	Version           string            `json:"version"`
	GroupKey          string            `json:"groupKey"`
	Status            string            `json:"status"` // "firing" | "resolved"
	Receiver          string            `json:"receiver"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	Alerts            []alertItem       `json:"alerts"`
}

type alertItem struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     string            `json:"startsAt"`
	EndsAt       string            `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// AlertmanagerHandler принимает алерты конвейера (например, рост DLQ) и пересылает их через sender
type AlertmanagerHandler struct {
	logger    *zap.Logger
	sender    sender.Sender
	recipient string
}

// NewAlertmanagerHandler создаёт обработчик webhook алертов. sender nil - алерты только логируются
func NewAlertmanagerHandler(logger *zap.Logger, s sender.Sender, recipient string) *AlertmanagerHandler {
	return &AlertmanagerHandler{
		logger:    logger,
		sender:    s,
		recipient: recipient,
	}
}

// ServeHTTP принимает JSON от Alertmanager, форматирует сообщение и отправляет его
func (h *AlertmanagerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload alertmanagerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Error("alertmanager webhook: decode failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "bad_request", "invalid alertmanager payload")
		return
	}

	if h.sender == nil {
		h.logger.Warn("alertmanager webhook: alerts disabled, skipping send",
			zap.String("status", payload.Status),
			zap.Int("alerts", len(payload.Alerts)),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	msg := sender.Message{
		To:      h.recipient,
		Subject: fmt.Sprintf("Alertmanager: %s (%d)", payload.Status, len(payload.Alerts)),
		Body:    formatAlerts(&payload),
	}
	if err := h.sender.Send(ctx, msg); err != nil {
		h.logger.Error("alertmanager webhook: send failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "send_failed", "failed to send alert")
		return
	}

	h.logger.Info("alertmanager webhook: alert sent",
		zap.String("status", payload.Status),
		zap.Int("alerts", len(payload.Alerts)),
	)
	w.WriteHeader(http.StatusOK)
}

func formatAlerts(p *alertmanagerPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Receiver: %s\n", p.Receiver)
	if p.ExternalURL != "" {
		fmt.Fprintf(&b, "URL: %s\n", p.ExternalURL)
	}
	for i, a := range p.Alerts {
		alertname := a.Labels["alertname"]
		if alertname == "" {
			alertname = "Alert"
		}
		fmt.Fprintf(&b, "\n[%d] %s (%s)\n", i+1, alertname, a.Status)
		if summary := a.Annotations["summary"]; summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", summary)
		}
		if desc := a.Annotations["description"]; desc != "" {
			fmt.Fprintf(&b, "Description: %s\n", desc)
		}
		if a.StartsAt != "" {
			fmt.Fprintf(&b, "StartsAt: %s\n", a.StartsAt)
		}
		if a.Status == "resolved" && a.EndsAt != "" {
			fmt.Fprintf(&b, "EndsAt: %s\n", a.EndsAt)
		}

		// метки в стабильном порядке
		keys := make([]string, 0, len(a.Labels))
		for k := range a.Labels {
			if k != "alertname" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s=%s ", k, a.Labels[k])
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errCode, Message: message})
}
