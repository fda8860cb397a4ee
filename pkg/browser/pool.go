package browser

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/entrhq/shutter/pkg/config"
	"github.com/entrhq/shutter/pkg/engine"
	"github.com/entrhq/shutter/pkg/logging"
)

var (
	// ErrSessionClosed is returned when acquiring from a closed session.
	ErrSessionClosed = errors.New("browser session closed")

	errNotCheckedOut = errors.New("page slot is not checked out")
)

// Slot is one page owned by a session's pool.
type Slot struct {
	id    int
	page  engine.Page
	inUse bool
}

// Page returns the engine page.
func (s *Slot) Page() engine.Page {
	return s.page
}

// ID returns the slot number, unique within its pool.
func (s *Slot) ID() int {
	return s.id
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Capacity int `json:"capacity"`
	InUse    int `json:"inUse"`
	Idle     int `json:"idle"`
	Created  int `json:"created"`
}

// Pool hands out pages of one browser context. At most maxPages pages are
// checked out at once, read from the session options on every call so a
// reload applies immediately. Waiters are served in arrival order.
type Pool struct {
	mu      sync.Mutex
	context engine.Context
	free    []*Slot
	inUse   int
	created int
	closed  bool

	// waiters holds a chan struct{} per blocked Acquire. woken counts
	// waiters that were signalled but have not yet taken their turn.
	waiters *list.List
	woken   int

	options func() config.LaunchOptions
	logger  *logging.Logger
	metrics *Metrics
}

func newPool(ctx engine.Context, options func() config.LaunchOptions, logger *logging.Logger, metrics *Metrics) *Pool {
	return &Pool{
		context: ctx,
		waiters: list.New(),
		options: options,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *Pool) limit() int {
	return p.options().PageLimit()
}

// Acquire blocks until a page is available or ctx is done. Idle pages are
// reused most recent first; otherwise a new page is opened.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	p.mu.Lock()
	signalled := false
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrSessionClosed
		}
		// Signalled waiters hold a reserved turn; newcomers must not overtake
		// anyone already queued.
		if p.inUse+p.woken < p.limit() && (signalled || p.waiters.Len() == 0) {
			break
		}

		ready := make(chan struct{})
		var elem *list.Element
		if signalled {
			elem = p.waiters.PushFront(ready)
		} else {
			elem = p.waiters.PushBack(ready)
		}
		p.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			p.mu.Lock()
			select {
			case <-ready:
				// Signalled while giving up: pass the turn on
				p.woken--
				p.notifyLocked()
			default:
				p.waiters.Remove(elem)
			}
			p.mu.Unlock()
			return nil, fmt.Errorf("waiting for page: %w", ctx.Err())
		}

		p.mu.Lock()
		p.woken--
		signalled = true
	}

	p.inUse++
	if n := len(p.free); n > 0 {
		slot := p.free[n-1]
		p.free = p.free[:n-1]
		slot.inUse = true
		p.mu.Unlock()
		p.metrics.PagesIdle.Dec()
		p.metrics.PagesInUse.Inc()
		return slot, nil
	}
	p.mu.Unlock()

	page, err := p.context.NewPage()
	if err != nil {
		p.mu.Lock()
		p.inUse--
		p.notifyLocked()
		p.mu.Unlock()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	p.mu.Lock()
	p.created++
	slot := &Slot{id: p.created, page: page, inUse: true}
	p.mu.Unlock()

	p.metrics.PagesCreated.Inc()
	p.metrics.PagesInUse.Inc()
	p.logger.Debugf("opened page %d", slot.id)
	return slot, nil
}

// notifyLocked wakes as many waiters, oldest first, as the current limit
// has room for. p.mu must be held.
func (p *Pool) notifyLocked() {
	limit := p.limit()
	for p.waiters.Len() > 0 && (p.closed || p.inUse+p.woken < limit) {
		front := p.waiters.Front()
		p.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		p.woken++
	}
}

// limitChanged wakes waiters after maxPages was raised.
func (p *Pool) limitChanged() {
	p.mu.Lock()
	p.notifyLocked()
	p.mu.Unlock()
}

// Release returns a slot. It never fails; problems are logged.
func (p *Pool) Release(slot *Slot) {
	if err := p.recycle(slot); err != nil {
		p.logger.Debugf("page release: %v", err)
	}
}

// recycle frees the checked-out count first, then resets the page. In debug
// mode the page stays open for inspection and is not pooled.
func (p *Pool) recycle(slot *Slot) error {
	if slot == nil {
		return nil
	}

	p.mu.Lock()
	if !slot.inUse {
		p.mu.Unlock()
		return errNotCheckedOut
	}
	slot.inUse = false
	p.inUse--
	p.notifyLocked()
	p.mu.Unlock()

	p.metrics.PagesInUse.Dec()

	opts := p.options()
	if opts.IsDebug() {
		p.logger.Debugf("debug mode, leaving page %d open", slot.id)
		return nil
	}

	if err := slot.page.Goto("about:blank", 0); err != nil {
		_ = slot.page.Close()
		p.metrics.PagesDiscarded.Inc()
		return fmt.Errorf("failed to reset page %d, closed it: %w", slot.id, err)
	}

	p.mu.Lock()
	if !p.closed && len(p.free) < opts.PageLimit() {
		p.free = append(p.free, slot)
		p.mu.Unlock()
		p.metrics.PagesIdle.Inc()
		return nil
	}
	p.mu.Unlock()

	p.metrics.PagesDiscarded.Inc()
	if err := slot.page.Close(); err != nil {
		return fmt.Errorf("failed to close surplus page %d: %w", slot.id, err)
	}
	return nil
}

// Stats returns current pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity: p.limit(),
		InUse:    p.inUse,
		Idle:     len(p.free),
		Created:  p.created,
	}
}

// close closes idle pages, wakes every waiter and refuses further
// acquisitions. Checked-out pages go away with their context.
func (p *Pool) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	free := p.free
	p.free = nil
	p.notifyLocked()
	p.mu.Unlock()

	var errs []error
	for _, slot := range free {
		p.metrics.PagesIdle.Dec()
		if err := slot.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("page %d: %w", slot.id, err))
		}
	}
	return errors.Join(errs...)
}
