package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "HTTP_ADDR", "STORAGE", "PAYMENT_POSTGRES_DSN", "SHUTDOWN_TIMEOUT",
		"RABBITMQ_URL", "DLQ_BACKEND", "GATEWAY", "GATEWAY_URL", "GATEWAY_TIMEOUT",
		"GATEWAY_MAX_ATTEMPTS", "GATEWAY_BACKOFF", "FAKE_GATEWAY_SUCCESS_RATE", "FAKE_GATEWAY_LATENCY",
		"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SAMPLING_RATIO",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvLocal, cfg.AppEnv)
	assert.Equal(t, "127.0.0.1:8081", cfg.HTTPAddr)
	assert.Equal(t, GatewayFake, cfg.Gateway)
	assert.Equal(t, 0.8, cfg.FakeSuccessRate)
	assert.Equal(t, time.Second, cfg.FakeLatency)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 3, cfg.GatewayMaxAttempts)
}

func TestLoad_HTTPGatewayRequiresURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY", "http")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEWAY_URL")

	t.Setenv("GATEWAY_URL", "http://psp.local")
	t.Setenv("GATEWAY_TIMEOUT", "2s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.GatewayTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"APP_ENV":                   "staging",
		"STORAGE":                   "sqlite",
		"GATEWAY":                   "stripe",
		"FAKE_GATEWAY_SUCCESS_RATE": "1.5",
		"GATEWAY_TIMEOUT":           "fast",
		"DLQ_BACKEND":               "file",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
