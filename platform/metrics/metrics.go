package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Результаты обработки доставки (label result)
const (
	ResultAcked        = "acked"
	ResultRetried      = "retried"
	ResultDeadLettered = "dead_lettered"
	ResultRequeued     = "requeued"
)

// Metrics счётчики конвейера событий одного сервиса.
// Все методы безопасны для nil receiver: сервис без метрик просто передаёт nil.
type Metrics struct {
	registry *prometheus.Registry

	consumed  *prometheus.CounterVec
	published *prometheus.CounterVec
	handling  *prometheus.HistogramVec
}

// New создаёт отдельный registry с метриками конвейера и стандартными go/process коллекторами
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "events_consumed_total",
			Help:        "Total number of consumed deliveries by outcome",
			ConstLabels: constLabels,
		}, []string{"queue", "event_type", "result"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "events_published_total",
			Help:        "Total number of publish attempts by outcome",
			ConstLabels: constLabels,
		}, []string{"event_type", "result"}),
		handling: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "event_handler_duration_seconds",
			Help:        "Event handler latency",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"queue", "event_type"}),
	}

	reg.MustRegister(
		m.consumed,
		m.published,
		m.handling,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry для регистрации метрик конкретного сервиса
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler отдаёт /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveConsumed учитывает исход обработки доставки
func (m *Metrics) ObserveConsumed(queue, eventType, result string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(queue, eventType, result).Inc()
}

// ObserveHandled учитывает длительность вызова handler-а
func (m *Metrics) ObserveHandled(queue, eventType string, d time.Duration) {
	if m == nil {
		return
	}
	m.handling.WithLabelValues(queue, eventType).Observe(d.Seconds())
}

// ObservePublished учитывает попытку публикации; err == nil считается успехом
func (m *Metrics) ObservePublished(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(eventType, result).Inc()
}
