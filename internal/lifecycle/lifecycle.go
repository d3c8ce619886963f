// Package lifecycle starts and stops long-running components in
// dependency order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kausalhq/kausal/internal/logging"
)

// DefaultShutdownTimeout is the per-component grace period on stop.
const DefaultShutdownTimeout = 30 * time.Second

// Component is a long-running part of the process managed by the
// Manager. Start must be safe to call once before Stop; Stop must
// respect the context deadline.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// Manager starts components after their dependencies and stops them in
// reverse start order. A failed start rolls back everything already
// started.
type Manager struct {
	mu              sync.Mutex
	components      []Component
	dependencies    map[Component][]Component
	started         []Component
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		dependencies:    map[Component][]Component{},
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logging.GetLogger("lifecycle"),
	}
}

// SetShutdownTimeout overrides the per-component stop grace period.
func (m *Manager) SetShutdownTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = d
}

// Register adds a component. Dependencies must already be registered;
// the component will start after them and stop before them.
func (m *Manager) Register(c Component, dependsOn ...Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c == nil {
		return errors.New("cannot register nil component")
	}
	if c.Name() == "" {
		return errors.New("component needs a name")
	}
	for _, existing := range m.components {
		if existing == c {
			return fmt.Errorf("component %s already registered", c.Name())
		}
	}
	for _, dep := range dependsOn {
		if !m.isRegistered(dep) {
			return fmt.Errorf("dependency %s of %s is not registered", dep.Name(), c.Name())
		}
	}

	m.components = append(m.components, c)
	m.dependencies[c] = dependsOn
	m.logger.Debug("registered component %s with %d dependencies", c.Name(), len(dependsOn))
	return nil
}

func (m *Manager) isRegistered(c Component) bool {
	for _, existing := range m.components {
		if existing == c {
			return true
		}
	}
	return false
}

// Start starts every component in dependency order. On failure the
// already-started components are stopped in reverse order and the
// error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = nil
	for _, c := range m.sorted() {
		m.logger.Info("starting %s", c.Name())
		begin := time.Now()
		if err := c.Start(ctx); err != nil {
			m.logger.ErrorWithErr("start of %s failed, rolling back", err, c.Name())
			m.rollback()
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		m.started = append(m.started, c)
		m.logger.Info("%s started in %dms", c.Name(), time.Since(begin).Milliseconds())
	}
	return nil
}

// Stop stops started components in reverse start order. Each gets its
// own timeout; errors are logged, not returned, so one slow component
// cannot block the rest of shutdown.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		m.logger.Info("stopping %s", c.Name())

		stopCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		if err := c.Stop(stopCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				m.logger.Warn("%s exceeded the %s shutdown grace period", c.Name(), m.shutdownTimeout)
			} else {
				m.logger.ErrorWithErr("stopping %s failed", err, c.Name())
			}
		}
		cancel()
	}
	m.started = nil
	m.logger.Info("all components stopped")
	return nil
}

// sorted returns components with every dependency ahead of its
// dependents.
func (m *Manager) sorted() []Component {
	visited := map[Component]bool{}
	var out []Component
	var visit func(Component)
	visit = func(c Component) {
		if visited[c] {
			return
		}
		visited[c] = true
		for _, dep := range m.dependencies[c] {
			visit(dep)
		}
		out = append(out, c)
	}
	for _, c := range m.components {
		visit(c)
	}
	return out
}

func (m *Manager) rollback() {
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Stop(ctx); err != nil {
			m.logger.Warn("rollback stop of %s failed: %v", c.Name(), err)
		}
		cancel()
	}
	m.started = nil
}
