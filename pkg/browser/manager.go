package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/entrhq/shutter/pkg/bus"
	"github.com/entrhq/shutter/pkg/config"
	"github.com/entrhq/shutter/pkg/engine"
	"github.com/entrhq/shutter/pkg/logging"
)

// Manager owns the single live browser session and replaces it when a
// configuration change asks for a relaunch.
//
// Every WithPage call holds the read side of drain for its whole duration,
// so a relaunch waits for in-flight pages before closing the old browser.
// Launch, Reload and Close are serialized by reload, which is taken before
// drain.
type Manager struct {
	driver  engine.Driver
	logger  *logging.Logger
	metrics *Metrics

	reload sync.Mutex
	drain  sync.RWMutex

	mu      sync.Mutex
	session *Session
	sub     bus.Subscription
}

// NewManager returns a manager with no session. Call Launch before use.
func NewManager(driver engine.Driver, logger *logging.Logger, metrics *Metrics) *Manager {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Manager{
		driver:  driver,
		logger:  logger.With("browser"),
		metrics: metrics,
	}
}

// Launch starts a session with opts, closing any existing one first.
func (m *Manager) Launch(opts config.LaunchOptions) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	m.reload.Lock()
	defer m.reload.Unlock()
	m.drain.Lock()
	defer m.drain.Unlock()
	return m.relaunch(opts)
}

// relaunch must be called with drain held for writing.
func (m *Manager) relaunch(opts config.LaunchOptions) (*Session, error) {
	if old := m.swap(nil); old != nil {
		old.Close()
	}

	s, err := launchSession(m.driver, opts, m.logger, m.metrics)
	if err != nil {
		m.logger.Errorf("browser launch failed: %v", err)
		return nil, err
	}
	m.swap(s)
	return s, nil
}

func (m *Manager) swap(s *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.session
	m.session = s
	return old
}

// Current returns the live session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Options returns the live session's configuration, or defaults when no
// session is running.
func (m *Manager) Options() config.LaunchOptions {
	if s := m.Current(); s != nil {
		return s.Options()
	}
	return config.Defaults()
}

// WithPage checks a page out of the live session, runs fn with it and the
// session's options, and returns the page to the pool.
func (m *Manager) WithPage(ctx context.Context, fn func(page engine.Page, opts config.LaunchOptions) error) error {
	m.drain.RLock()
	defer m.drain.RUnlock()

	s := m.Current()
	if s == nil {
		return ErrSessionClosed
	}

	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(slot)

	return fn(slot.Page(), s.Options())
}

// Reload merges partial over the live configuration. Without hmr the merged
// options are stored on the same session. With hmr the manager waits for
// in-flight pages, closes the old browser and launches a new one.
func (m *Manager) Reload(ctx context.Context, partial config.LaunchOptions) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The merge base must not change under us
	m.reload.Lock()
	defer m.reload.Unlock()

	current := m.Current()
	base := config.Defaults()
	if current != nil {
		base = current.Options()
	}
	merged := base.Apply(partial)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if current != nil && !merged.ReloadsBrowser() {
		current.setOptions(merged)
		m.metrics.Reloads.WithLabelValues("merge").Inc()
		m.logger.Infof("configuration updated without relaunch")
		return current, nil
	}

	m.drain.Lock()
	defer m.drain.Unlock()

	m.logger.Infof("configuration changed, relaunching %s", merged.Kind())
	s, err := m.relaunch(merged)
	if err != nil {
		return nil, err
	}
	m.metrics.Reloads.WithLabelValues("relaunch").Inc()
	return s, nil
}

// Subscribe applies configuration events from b until ctx is done or the
// manager is closed.
func (m *Manager) Subscribe(ctx context.Context, b bus.MessageBus) error {
	sub, err := b.Subscribe(ctx, config.HMRSubject, func(msg *bus.Message) {
		var partial config.LaunchOptions
		if err := json.Unmarshal(msg.Data, &partial); err != nil {
			m.logger.Warnf("ignoring malformed config event: %v", err)
			return
		}
		if _, err := m.Reload(ctx, partial); err != nil {
			m.logger.Errorf("config reload failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", config.HMRSubject, err)
	}

	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
	return nil
}

// Stats returns the live pool counters.
func (m *Manager) Stats() (PoolStats, bool) {
	s := m.Current()
	if s == nil {
		return PoolStats{}, false
	}
	return s.pool.Stats(), true
}

// Close stops listening for events, closes the session once in-flight pages
// finish, and stops the engine driver.
func (m *Manager) Close() error {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()

	var errs []error
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, bus.ErrClosed) {
			errs = append(errs, err)
		}
	}

	m.reload.Lock()
	m.drain.Lock()
	if s := m.swap(nil); s != nil {
		s.Close()
	}
	m.drain.Unlock()
	m.reload.Unlock()

	if err := m.driver.Stop(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
