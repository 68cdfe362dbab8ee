// Package controller runs periodic reconciliation loops next to the job
// worker. Each controller owns one maintenance concern of the catalog, runs in
// its own goroutine and must be idempotent: a failed or repeated run leaves the
// catalog consistent.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openctemio/vulncatalog/pkg/logger"
)

// Controller is a reconciliation loop.
type Controller interface {
	// Name returns the unique name of this controller.
	Name() string

	// Interval returns how often this controller should run.
	Interval() time.Duration

	// Reconcile performs one pass and returns the number of items it changed.
	Reconcile(ctx context.Context) (int, error)
}

// Metrics records controller activity.
type Metrics interface {
	RecordReconcile(controller string, items int, duration time.Duration, err error)
	SetControllerRunning(controller string, running bool)
}

// Manager runs registered controllers until stopped.
type Manager struct {
	controllers []Controller
	metrics     Metrics
	logger      *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a controller manager. metrics may be nil.
func NewManager(metrics Metrics, log *logger.Logger) *Manager {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Manager{
		metrics: metrics,
		logger:  log.With("component", "controller_manager"),
	}
}

// Register adds a controller. It panics once the manager is running.
func (m *Manager) Register(c Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		panic("controller: cannot register controllers while manager is running")
	}
	m.controllers = append(m.controllers, c)
	m.logger.Info("controller registered", "name", c.Name(), "interval", c.Interval().String())
}

// Start launches every registered controller. Each runs once immediately
// and then on its interval until ctx is canceled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("controller manager already running")
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)
	for _, c := range m.controllers {
		m.wg.Go(func() { m.run(ctx, c) })
	}
	m.logger.Info("controller manager started", "controllers", len(m.controllers))
	return nil
}

// Stop cancels all controllers and waits for running passes to return.
// Safe to call even if Start was never called.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("controller manager stopped")
}

// Names returns the names of the registered controllers.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.controllers))
	for i, c := range m.controllers {
		names[i] = c.Name()
	}
	return names
}

func (m *Manager) run(ctx context.Context, c Controller) {
	name := c.Name()
	m.metrics.SetControllerRunning(name, true)
	defer m.metrics.SetControllerRunning(name, false)

	m.reconcile(ctx, c)

	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("controller stopping", "name", name)
			return
		case <-ticker.C:
			m.reconcile(ctx, c)
		}
	}
}

// reconcile runs one pass bounded by the controller interval.
func (m *Manager) reconcile(ctx context.Context, c Controller) {
	name := c.Name()
	start := time.Now()

	passCtx, cancel := context.WithTimeout(ctx, c.Interval())
	defer cancel()

	count, err := m.safeReconcile(passCtx, c)
	duration := time.Since(start)
	m.metrics.RecordReconcile(name, count, duration, err)

	switch {
	case err != nil:
		m.logger.Error("controller reconcile failed", "name", name, "duration", duration, "error", err)
	case count > 0:
		m.logger.Info("controller reconcile completed", "name", name, "items", count, "duration", duration)
	default:
		m.logger.Debug("controller reconcile completed", "name", name, "duration", duration)
	}
}

func (m *Manager) safeReconcile(ctx context.Context, c Controller) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("controller %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Reconcile(ctx)
}
