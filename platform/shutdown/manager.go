package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Phase этап остановки сервиса. Этапы выполняются по возрастанию,
// шаги одного этапа выполняются параллельно.
type Phase int

const (
	// PhaseIngress HTTP сервер и consumers: новая работа не принимается, in-flight дорабатывается
	PhaseIngress Phase = iota
	// PhaseWorkers фоновые воркеры (outbox dispatcher)
	PhaseWorkers
	// PhaseEgress publisher и DLQ sink
	PhaseEgress
	// PhaseConnections соединения с брокером и хранилищами
	PhaseConnections
	// PhaseTelemetry flush трейсов и метрик
	PhaseTelemetry
)

var phaseNames = map[Phase]string{
	PhaseIngress:     "ingress",
	PhaseWorkers:     "workers",
	PhaseEgress:      "egress",
	PhaseConnections: "connections",
	PhaseTelemetry:   "telemetry",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type step struct {
	phase Phase
	name  string
	fn    func(context.Context) error
}

// Manager останавливает сервис по этапам после SIGINT/SIGTERM или Trigger.
// timeout общий на всю остановку.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	steps []step

	trigger     chan struct{}
	triggerOnce sync.Once
}

func New(timeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		logger:  logger,
		trigger: make(chan struct{}),
	}
}

// Add регистрирует шаг остановки в этапе phase
func (m *Manager) Add(phase Phase, name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{phase: phase, name: name, fn: fn})
}

// Trigger запускает остановку без сигнала ОС (например, упал HTTP сервер)
func (m *Manager) Trigger(reason string) {
	m.triggerOnce.Do(func() {
		m.logger.Warn("shutdown triggered", zap.String("reason", reason))
		close(m.trigger)
	})
}

// Wait блокируется до сигнала или Trigger, затем выполняет все этапы.
// Ошибки шагов не прерывают остановку и возвращаются вместе.
func (m *Manager) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-m.trigger:
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.run(ctx)
}

func (m *Manager) run(ctx context.Context) error {
	m.mu.Lock()
	byPhase := make(map[Phase][]step)
	var phases []Phase
	for _, s := range m.steps {
		if _, ok := byPhase[s.phase]; !ok {
			phases = append(phases, s.phase)
		}
		byPhase[s.phase] = append(byPhase[s.phase], s)
	}
	m.mu.Unlock()
	slices.Sort(phases)

	start := time.Now()
	var errs []error
	for _, phase := range phases {
		errs = append(errs, m.runPhase(ctx, phase, byPhase[phase])...)
	}

	err := errors.Join(errs...)
	if err != nil {
		m.logger.Error("graceful shutdown finished with errors", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return err
	}
	m.logger.Info("graceful shutdown completed", zap.Duration("duration", time.Since(start)))
	return nil
}

func (m *Manager) runPhase(ctx context.Context, phase Phase, steps []step) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range steps {
		wg.Add(1)
		go func(s step) {
			defer wg.Done()
			started := time.Now()
			err := s.fn(ctx)
			log := m.logger.With(
				zap.String("phase", phase.String()),
				zap.String("step", s.name),
				zap.Duration("duration", time.Since(started)),
			)
			if err != nil {
				log.Error("shutdown step failed", zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s/%s: %w", phase, s.name, err))
				mu.Unlock()
				return
			}
			log.Info("shutdown step completed")
		}(s)
	}
	wg.Wait()
	return errs
}

// ShutdownHTTPServer шаг для http.Server
func ShutdownHTTPServer(srv interface {
	Shutdown(context.Context) error
}) func(context.Context) error {
	return srv.Shutdown
}

// ClosePool шаг для pgxpool.Pool
func ClosePool(pool interface{ Close() }) func(context.Context) error {
	return func(context.Context) error {
		pool.Close()
		return nil
	}
}

// CloseCloser шаг для AMQP соединения, publisher, Redis клиента, Kafka writer
func CloseCloser(c interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error {
		return c.Close()
	}
}
