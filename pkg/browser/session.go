package browser

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/shutter/pkg/config"
	"github.com/entrhq/shutter/pkg/engine"
	"github.com/entrhq/shutter/pkg/logging"
)

// Session is one running browser process with exactly one context and the
// page pool for that context.
type Session struct {
	// ID is a random identifier used in logs
	ID string

	// Kind is the engine the process runs
	Kind engine.Kind

	// CreatedAt is when the process was launched
	CreatedAt time.Time

	mu      sync.RWMutex
	opts    config.LaunchOptions
	closed  bool
	browser engine.Browser
	context engine.Context
	pool    *Pool
	logger  *logging.Logger
}

// launchSession starts a browser described by opts.
func launchSession(driver engine.Driver, opts config.LaunchOptions, logger *logging.Logger, metrics *Metrics) (*Session, error) {
	kind := opts.Kind()
	id := uuid.New().String()
	log := logger.WithField("session", id[:8])

	browser, err := driver.Launch(kind, opts.EngineOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", kind, err)
	}

	ctx, err := browser.NewContext()
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	s := &Session{
		ID:        id,
		Kind:      kind,
		CreatedAt: time.Now(),
		opts:      opts,
		browser:   browser,
		context:   ctx,
		logger:    log,
	}
	s.pool = newPool(ctx, s.Options, log, metrics)

	browser.OnDisconnected(func() {
		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()
		if !closed {
			log.Warnf("%s browser disconnected unexpectedly", kind)
		}
	})

	metrics.SessionsLaunched.Inc()
	log.Infof("launched %s (headless=%t, maxPages=%d)", kind, opts.EngineOptions().Headless, opts.PageLimit())
	return s, nil
}

// Options returns a copy of the session's current configuration.
func (s *Session) Options() config.LaunchOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return config.LaunchOptions{}.Apply(s.opts)
}

// setOptions replaces the options in place. A raised maxPages admits
// waiting callers straight away.
func (s *Session) setOptions(opts config.LaunchOptions) {
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
	s.pool.limitChanged()
}

// Pool returns the session's page pool.
func (s *Session) Pool() *Pool {
	return s.pool
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close shuts the session down. Failures are logged, never returned.
func (s *Session) Close() {
	if err := s.close(); err != nil {
		s.logger.Errorf("error closing browser session: %v", err)
	}
}

// close closes pooled pages, then the context, then the browser process,
// attempting every step.
func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.pool.close(); err != nil {
		errs = append(errs, fmt.Errorf("pages: %w", err))
	}
	if err := s.context.Close(); err != nil {
		errs = append(errs, fmt.Errorf("context: %w", err))
	}
	if err := s.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("browser: %w", err))
	}
	s.logger.Infof("closed %s session", s.Kind)
	return errors.Join(errs...)
}
