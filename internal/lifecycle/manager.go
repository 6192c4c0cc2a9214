package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/moolen/tailwatch/internal/logging"
)

// Manager starts components after their dependencies and stops them in
// reverse start order. A failed start rolls back what already started.
type Manager struct {
	mu              sync.Mutex
	components      []Component
	dependencies    map[Component][]Component
	started         []Component
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// NewManager returns a manager with a 30 second per-component shutdown
// timeout.
func NewManager() *Manager {
	return &Manager{
		dependencies:    make(map[Component][]Component),
		shutdownTimeout: 30 * time.Second,
		logger:          logging.GetLogger("lifecycle"),
	}
}

// Register adds component. Its dependencies must already be registered,
// which also rules out cycles.
func (m *Manager) Register(component Component, dependsOn ...Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if component == nil {
		return fmt.Errorf("cannot register nil component")
	}
	if component.Name() == "" {
		return fmt.Errorf("component must have a non-empty name")
	}
	if slices.Contains(m.components, component) {
		return fmt.Errorf("component %s is already registered", component.Name())
	}
	for _, dep := range dependsOn {
		if !slices.Contains(m.components, dep) {
			return fmt.Errorf("dependency %s of %s is not registered", dep.Name(), component.Name())
		}
	}

	m.components = append(m.components, component)
	m.dependencies[component] = dependsOn
	m.logger.Debug("registered %s with %d dependencies", component.Name(), len(dependsOn))
	return nil
}

// order returns the components with every dependency before its
// dependents, keeping registration order otherwise.
func (m *Manager) order() []Component {
	visited := make(map[Component]bool, len(m.components))
	var sorted []Component
	var visit func(Component)
	visit = func(c Component) {
		if visited[c] {
			return
		}
		visited[c] = true
		for _, dep := range m.dependencies[c] {
			visit(dep)
		}
		sorted = append(sorted, c)
	}
	for _, c := range m.components {
		visit(c)
	}
	return sorted
}

// Start starts every component in dependency order.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = nil
	for _, c := range m.order() {
		begin := time.Now()
		m.logger.Info("starting %s", c.Name())
		if err := c.Start(ctx); err != nil {
			m.logger.ErrorWithErr("failed to start %s, rolling back", err, c.Name())
			m.stopStarted(context.Background(), 5*time.Second)
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		m.started = append(m.started, c)
		m.logger.Info("%s started (took %dms)", c.Name(), time.Since(begin).Milliseconds())
	}
	return nil
}

// Stop stops the started components in reverse order. Every component is
// stopped even when another fails; the errors are joined.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopStarted(ctx, m.shutdownTimeout)
}

func (m *Manager) stopStarted(ctx context.Context, timeout time.Duration) error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		begin := time.Now()
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Stop(cctx)
		cancel()

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			m.logger.Warn("%s exceeded its %s shutdown timeout", c.Name(), timeout)
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
		case err != nil:
			m.logger.ErrorWithErr("failed to stop %s", err, c.Name())
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
		default:
			m.logger.Info("%s stopped (took %dms)", c.Name(), time.Since(begin).Milliseconds())
		}
	}
	m.started = nil
	return errors.Join(errs...)
}

// IsRunning reports whether c was started and not stopped since.
func (m *Manager) IsRunning(c Component) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.started, c)
}

// SetShutdownTimeout sets the per-component shutdown timeout.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = timeout
}
