//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// service запущенный бинарник сервиса
type service struct {
	name string
	addr string
	cmd  *exec.Cmd
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// buildService собирает cmd/<name> сервиса во временный каталог
func buildService(t *testing.T, binDir, name string) string {
	t.Helper()
	bin := filepath.Join(binDir, name)
	cmd := exec.Command("go", "build", "-o", bin, "./services/"+name+"/cmd/"+name)
	cmd.Dir = ".."
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "build %s: %s", name, out)
	return bin
}

func startService(t *testing.T, bin, name string, env ...string) *service {
	t.Helper()
	addr := freeAddr(t)

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(), "APP_ENV=local", "HTTP_ADDR="+addr, "LOG_LEVEL=warn")
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Start())

	s := &service{name: name, addr: addr, cmd: cmd}
	t.Cleanup(func() {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			_ = cmd.Process.Kill()
		}
	})

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 30*time.Second, 200*time.Millisecond, "%s did not become healthy", name)
	return s
}

func (s *service) url(path string) string {
	return "http://" + s.addr + path
}

// getJSON без require: вызывается и из условия Eventually
func getJSON(url string, dst any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if dst != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

type orderStatus struct {
	ID                   string `json:"id"`
	Status               string `json:"status"`
	ProcessingDurationMs *int64 `json:"processing_duration_ms"`
}

func TestPipeline_CheckoutReachesTerminalState(t *testing.T) {
	ctx := context.Background()

	container, err := tcrabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })
	amqpURL, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	binDir := t.TempDir()
	common := []string{
		"RABBITMQ_URL=" + amqpURL,
		"RABBITMQ_RETRY_BACKOFF_BASE=50ms",
		"STORAGE=memory",
	}

	order := startService(t, buildService(t, binDir, "order"), "order", common...)
	payment := startService(t, buildService(t, binDir, "payment"), "payment",
		append(common, "FAKE_GATEWAY_LATENCY=200ms")...)
	startService(t, buildService(t, binDir, "notification"), "notification",
		append(common, "DEDUPE_BACKEND=memory", "SENDER=log")...)

	// $100.00: 2 x 25.00 + 1 x 50.00
	body, err := json.Marshal(map[string]any{
		"user_id":    "user-e2e",
		"user_email": "e2e@example.com",
		"items": []map[string]any{
			{"product_id": "p-1", "quantity": 2, "price": 25.00},
			{"product_id": "p-2", "quantity": 1, "price": 50.00},
		},
	})
	require.NoError(t, err)

	start := time.Now()
	resp, err := http.Post(order.url("/checkout"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID          string          `json:"id"`
		Status      string          `json:"status"`
		TotalAmount json.RawMessage `json:"total_amount"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "100.00", string(created.TotalAmount))
	assert.Less(t, time.Since(start), 2*time.Second, "checkout must not wait for payment")

	// терминальный статус не позже 10s
	var final orderStatus
	require.Eventually(t, func() bool {
		var st orderStatus
		code, err := getJSON(order.url("/orders/"+created.ID+"/status"), &st)
		if err != nil || code != http.StatusOK {
			return false
		}
		final = st
		return st.Status == "paid" || st.Status == "failed"
	}, 10*time.Second, 100*time.Millisecond)

	require.NotNil(t, final.ProcessingDurationMs)
	assert.GreaterOrEqual(t, *final.ProcessingDurationMs, int64(0))

	// ровно один платёж на заказ, исход совпадает со статусом заказа
	var pay struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	code, err := getJSON(payment.url("/payments/order/"+created.ID), &pay)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, created.ID, pay.OrderID)
	wantOrder := map[string]string{"completed": "paid", "failed": "failed"}[pay.Status]
	assert.Equal(t, wantOrder, final.Status, fmt.Sprintf("payment %s vs order %s", pay.Status, final.Status))
}

func TestPipeline_ValidationNeverEntersPipeline(t *testing.T) {
	ctx := context.Background()

	container, err := tcrabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })
	amqpURL, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	order := startService(t, buildService(t, t.TempDir(), "order"), "order", "RABBITMQ_URL="+amqpURL, "STORAGE=memory")

	for name, body := range map[string]string{
		"empty cart":        `{"user_id":"u","items":[]}`,
		"zero quantity":     `{"user_id":"u","items":[{"product_id":"p","quantity":0,"price":1.00}]}`,
		"negative quantity": `{"user_id":"u","items":[{"product_id":"p","quantity":-1,"price":1.00}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(order.url("/checkout"), "application/json", bytes.NewReader([]byte(body)))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}
