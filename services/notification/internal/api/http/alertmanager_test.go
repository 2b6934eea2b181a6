package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/orderflow/platform/health/http"
	"github.com/shestoi/orderflow/services/notification/internal/sender"
	"github.com/shestoi/orderflow/services/notification/internal/service/mocks"
)

const firingPayload = `{
  "version": "4",
  "status": "firing",
  "receiver": "pipeline",
  "alerts": [
    {
      "status": "firing",
      "labels": {"alertname": "DeadLettersGrowing", "queue": "payment_service_queue", "severity": "page"},
      "annotations": {"summary": "messages are being dead-lettered"},
      "startsAt": "2026-01-02T03:04:05Z"
    }
  ]
}`

func TestAlertmanagerHandler_SendsAlert(t *testing.T) {
	s := mocks.NewSender(t)
	s.On("Send", mock.Anything, mock.MatchedBy(func(msg sender.Message) bool {
		return msg.To == "ops@example.com" &&
			msg.Subject == "Alertmanager: firing (1)" &&
			strings.Contains(msg.Body, "[1] DeadLettersGrowing (firing)") &&
			strings.Contains(msg.Body, "queue=payment_service_queue severity=page")
	})).Return(nil).Once()

	router := NewRouter(NewAlertmanagerHandler(zap.NewNop(), s, "ops@example.com"), nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/alertmanager", strings.NewReader(firingPayload)))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAlertmanagerHandler_Errors(t *testing.T) {
	t.Run("bad json", func(t *testing.T) {
		s := mocks.NewSender(t)
		router := NewRouter(NewAlertmanagerHandler(zap.NewNop(), s, ""), nil, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts", strings.NewReader("{")))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "bad_request", resp.Error)
	})

	t.Run("send failure", func(t *testing.T) {
		s := mocks.NewSender(t)
		s.On("Send", mock.Anything, mock.Anything).Return(errors.New("telegram down")).Once()
		router := NewRouter(NewAlertmanagerHandler(zap.NewNop(), s, ""), nil, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts", strings.NewReader(firingPayload)))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		router := NewRouter(NewAlertmanagerHandler(zap.NewNop(), nil, ""), nil, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts", strings.NewReader(firingPayload)))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("get not allowed", func(t *testing.T) {
		router := NewRouter(NewAlertmanagerHandler(zap.NewNop(), nil, ""), nil, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestRouter_Health(t *testing.T) {
	router := NewRouter(NewAlertmanagerHandler(zap.NewNop(), nil, ""), nil, nil,
		platformhealth.Check{Name: "redis", Fn: func(ctx context.Context) error { return errors.New("connection refused") }},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp platformhealth.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "notification", resp.Service)
	assert.Equal(t, "connection refused", resp.Checks["redis"])
}
