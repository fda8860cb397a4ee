// Package enginetest provides an in-memory engine implementation for tests.
package enginetest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/entrhq/shutter/pkg/engine"
)

// ErrFake is a generic injected failure.
var ErrFake = errors.New("fake engine failure")

// Driver is a fake engine.Driver. Configure, when set, is applied to every
// page created by any browser the driver launches.
type Driver struct {
	mu        sync.Mutex
	LaunchErr error
	Configure func(p *Page)
	Browsers  []*Browser
	Events    []string
	Stopped   bool
	pageSeq   int
}

// NewDriver returns an empty fake driver.
func NewDriver() *Driver {
	return &Driver{}
}

func (d *Driver) record(event string) {
	d.mu.Lock()
	d.Events = append(d.Events, event)
	d.mu.Unlock()
}

// EventLog returns a copy of the recorded lifecycle events.
func (d *Driver) EventLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Events...)
}

// Launch implements engine.Driver.
func (d *Driver) Launch(kind engine.Kind, opts engine.LaunchOptions) (engine.Browser, error) {
	d.mu.Lock()
	if d.LaunchErr != nil {
		err := d.LaunchErr
		d.mu.Unlock()
		return nil, err
	}
	b := &Browser{driver: d, ID: len(d.Browsers) + 1, Kind: kind, Options: opts}
	d.Browsers = append(d.Browsers, b)
	d.mu.Unlock()

	d.record(fmt.Sprintf("launch:%d", b.ID))
	return b, nil
}

// Stop implements engine.Driver.
func (d *Driver) Stop() error {
	d.mu.Lock()
	d.Stopped = true
	d.mu.Unlock()
	return nil
}

// LiveBrowsers counts browsers that have not been closed.
func (d *Driver) LiveBrowsers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.Browsers {
		if !b.IsClosed() {
			n++
		}
	}
	return n
}

func (d *Driver) nextPageID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pageSeq++
	return d.pageSeq
}

// Browser is a fake engine.Browser.
type Browser struct {
	mu             sync.Mutex
	driver         *Driver
	ID             int
	Kind           engine.Kind
	Options        engine.LaunchOptions
	Contexts       []*Context
	CloseErr       error
	closed         bool
	onDisconnected []func()
}

// NewContext implements engine.Browser.
func (b *Browser) NewContext() (engine.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &Context{browser: b}
	b.Contexts = append(b.Contexts, c)
	return c, nil
}

// OnDisconnected implements engine.Browser.
func (b *Browser) OnDisconnected(fn func()) {
	b.mu.Lock()
	b.onDisconnected = append(b.onDisconnected, fn)
	b.mu.Unlock()
}

// Disconnect fires the disconnected handlers.
func (b *Browser) Disconnect() {
	b.mu.Lock()
	handlers := append([]func(){}, b.onDisconnected...)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// Close implements engine.Browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	b.closed = true
	err := b.CloseErr
	b.mu.Unlock()
	b.driver.record(fmt.Sprintf("close-browser:%d", b.ID))
	return err
}

// IsClosed reports whether Close was called.
func (b *Browser) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Context is a fake engine.Context.
type Context struct {
	mu       sync.Mutex
	browser  *Browser
	Pages    []*Page
	CloseErr error
	closed   bool
}

// NewPage implements engine.Context.
func (c *Context) NewPage() (engine.Page, error) {
	p := &Page{ID: c.browser.driver.nextPageID(), DocHeight: 600, HasElement: true}
	if cfg := c.browser.driver.Configure; cfg != nil {
		cfg(p)
	}
	c.mu.Lock()
	c.Pages = append(c.Pages, p)
	c.mu.Unlock()
	return p, nil
}

// Close implements engine.Context.
func (c *Context) Close() error {
	c.mu.Lock()
	c.closed = true
	err := c.CloseErr
	c.mu.Unlock()
	c.browser.driver.record(fmt.Sprintf("close-context:%d", c.browser.ID))
	return err
}

// IsClosed reports whether Close was called.
func (c *Context) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// PageCount returns the number of pages created in this context.
func (c *Context) PageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Pages)
}

// Page is a fake engine.Page. The exported hooks may be set by a Driver's
// Configure function to inject behaviour.
type Page struct {
	mu sync.Mutex

	ID         int
	DocHeight  float64
	HasElement bool

	GotoFunc            func(url string) error
	SetContentFunc      func(html string) error
	WaitForSelectorFunc func(selector string) error
	WaitForFunctionFunc func(expr string) error
	ScreenshotFunc      func(opts engine.ScreenshotOptions) ([]byte, error)
	ElementShotFunc     func(opts engine.ScreenshotOptions) ([]byte, error)
	CloseErr            error

	URL            string
	Content        string
	Headers        map[string]string
	DefaultTimeout float64
	Viewport       [2]int
	Waits          []string
	Sleeps         []float64
	Scrolls        []int
	PageShots      []engine.ScreenshotOptions
	ElementShots   []engine.ScreenshotOptions

	scroll int
	closed bool
}

// Goto implements engine.Page.
func (p *Page) Goto(url string, timeout float64) error {
	p.mu.Lock()
	fn := p.GotoFunc
	p.mu.Unlock()
	if fn != nil {
		if err := fn(url); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.URL = url
	if url == "about:blank" {
		p.Content = ""
	}
	p.mu.Unlock()
	return nil
}

// SetContent implements engine.Page.
func (p *Page) SetContent(html string, timeout float64) error {
	if p.SetContentFunc != nil {
		if err := p.SetContentFunc(html); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.Content = html
	p.mu.Unlock()
	return nil
}

// SetExtraHTTPHeaders implements engine.Page.
func (p *Page) SetExtraHTTPHeaders(headers map[string]string) error {
	p.mu.Lock()
	p.Headers = headers
	p.mu.Unlock()
	return nil
}

// SetDefaultTimeout implements engine.Page.
func (p *Page) SetDefaultTimeout(timeout float64) {
	p.mu.Lock()
	p.DefaultTimeout = timeout
	p.mu.Unlock()
}

// SetViewportSize implements engine.Page.
func (p *Page) SetViewportSize(width, height int) error {
	p.mu.Lock()
	p.Viewport = [2]int{width, height}
	p.mu.Unlock()
	return nil
}

// WaitForSelector implements engine.Page.
func (p *Page) WaitForSelector(selector string, timeout float64) error {
	p.mu.Lock()
	p.Waits = append(p.Waits, "selector:"+selector)
	p.mu.Unlock()
	if p.WaitForSelectorFunc != nil {
		return p.WaitForSelectorFunc(selector)
	}
	return nil
}

// WaitForFunction implements engine.Page.
func (p *Page) WaitForFunction(expression string, timeout float64) error {
	p.mu.Lock()
	p.Waits = append(p.Waits, "function:"+expression)
	p.mu.Unlock()
	if p.WaitForFunctionFunc != nil {
		return p.WaitForFunctionFunc(expression)
	}
	return nil
}

// WaitForTimeout implements engine.Page without sleeping.
func (p *Page) WaitForTimeout(timeout float64) {
	p.mu.Lock()
	p.Sleeps = append(p.Sleeps, timeout)
	p.mu.Unlock()
}

// Evaluate understands the two expressions the orchestrator issues: a
// window.scrollTo call and the document height query.
func (p *Page) Evaluate(expression string) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if strings.Contains(expression, "scrollTo") {
		var x, y int
		if _, err := fmt.Sscanf(strings.TrimSpace(expression), "window.scrollTo(%d, %d)", &x, &y); err != nil {
			return nil, err
		}
		p.scroll = y
		p.Scrolls = append(p.Scrolls, y)
		return nil, nil
	}
	if strings.Contains(expression, "scrollHeight") {
		return p.DocHeight, nil
	}
	return nil, fmt.Errorf("fake page cannot evaluate %q", expression)
}

// QuerySelector implements engine.Page.
func (p *Page) QuerySelector(selector string) (engine.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.HasElement {
		return nil, nil
	}
	return &element{page: p, selector: selector}, nil
}

// Screenshot implements engine.Page. Default output is "page@<scrollY>".
func (p *Page) Screenshot(opts engine.ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	p.PageShots = append(p.PageShots, opts)
	scroll := p.scroll
	fn := p.ScreenshotFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(opts)
	}
	return []byte(fmt.Sprintf("page@%d", scroll)), nil
}

// Close implements engine.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.CloseErr
}

// IsClosed reports whether Close was called.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Snapshot returns copies of the recorded page and element captures.
func (p *Page) Snapshot() (pageShots, elementShots []engine.ScreenshotOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.ScreenshotOptions(nil), p.PageShots...),
		append([]engine.ScreenshotOptions(nil), p.ElementShots...)
}

type element struct {
	page     *Page
	selector string
}

func (e *element) Screenshot(opts engine.ScreenshotOptions) ([]byte, error) {
	e.page.mu.Lock()
	e.page.ElementShots = append(e.page.ElementShots, opts)
	fn := e.page.ElementShotFunc
	e.page.mu.Unlock()
	if fn != nil {
		return fn(opts)
	}
	return []byte("element:" + e.selector), nil
}
