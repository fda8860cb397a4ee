package engine

import (
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver implements Driver on top of a Playwright server process.
type PlaywrightDriver struct {
	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywright starts the Playwright driver. Browser binaries must already be
// installed (see package install).
func NewPlaywright() (*PlaywrightDriver, error) {
	// Keep driver output away from the host's stdout
	pw, err := playwright.Run(&playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	return &PlaywrightDriver{pw: pw}, nil
}

// Launch starts a browser process of the requested kind.
func (d *PlaywrightDriver) Launch(kind Kind, opts LaunchOptions) (Browser, error) {
	d.mu.Lock()
	pw := d.pw
	d.mu.Unlock()
	if pw == nil {
		return nil, ErrNotStarted
	}

	var bt playwright.BrowserType
	switch kind {
	case Firefox:
		bt = pw.Firefox
	case WebKit:
		bt = pw.WebKit
	default:
		bt = pw.Chromium
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	}
	if opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(opts.ExecutablePath)
	}
	if opts.Channel != "" {
		launchOpts.Channel = playwright.String(opts.Channel)
	}
	if opts.Proxy != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.Proxy}
	}
	if opts.SlowMo > 0 {
		launchOpts.SlowMo = playwright.Float(opts.SlowMo)
	}
	if opts.Timeout > 0 {
		launchOpts.Timeout = playwright.Float(opts.Timeout)
	}

	browser, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", kind, err)
	}
	return &pwBrowser{browser: browser}, nil
}

// Stop shuts the Playwright driver down.
func (d *PlaywrightDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw == nil {
		return nil
	}
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	d.pw = nil
	return nil
}

type pwBrowser struct {
	browser playwright.Browser
}

func (b *pwBrowser) NewContext() (Context, error) {
	ctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		NoViewport: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	return &pwContext{ctx: ctx}, nil
}

func (b *pwBrowser) OnDisconnected(fn func()) {
	b.browser.OnDisconnected(func(playwright.Browser) { fn() })
}

func (b *pwBrowser) Close() error {
	return b.browser.Close()
}

type pwContext struct {
	ctx playwright.BrowserContext
}

func (c *pwContext) NewPage() (Page, error) {
	page, err := c.ctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &pwPage{page: page}, nil
}

func (c *pwContext) Close() error {
	return c.ctx.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(url string, timeout float64) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   timeoutOption(timeout),
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *pwPage) SetContent(html string, timeout float64) error {
	err := p.page.SetContent(html, playwright.PageSetContentOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   timeoutOption(timeout),
	})
	if err != nil {
		return fmt.Errorf("set content failed: %w", err)
	}
	return nil
}

func (p *pwPage) SetExtraHTTPHeaders(headers map[string]string) error {
	return p.page.SetExtraHTTPHeaders(headers)
}

func (p *pwPage) SetDefaultTimeout(timeout float64) {
	p.page.SetDefaultTimeout(timeout)
}

func (p *pwPage) SetViewportSize(width, height int) error {
	return p.page.SetViewportSize(width, height)
}

func (p *pwPage) WaitForSelector(selector string, timeout float64) error {
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: timeoutOption(timeout),
	})
	if err != nil {
		return fmt.Errorf("wait for selector %q failed: %w", selector, err)
	}
	return nil
}

func (p *pwPage) WaitForFunction(expression string, timeout float64) error {
	_, err := p.page.WaitForFunction(expression, nil, playwright.PageWaitForFunctionOptions{
		Timeout: timeoutOption(timeout),
	})
	if err != nil {
		return fmt.Errorf("wait for function failed: %w", err)
	}
	return nil
}

func (p *pwPage) WaitForTimeout(timeout float64) {
	p.page.WaitForTimeout(timeout)
}

func (p *pwPage) Evaluate(expression string) (interface{}, error) {
	return p.page.Evaluate(expression)
}

func (p *pwPage) QuerySelector(selector string) (Element, error) {
	handle, err := p.page.QuerySelector(selector)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, nil
	}
	return &pwElement{handle: handle}, nil
}

func (p *pwPage) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	pwOpts := playwright.PageScreenshotOptions{
		Type:           screenshotType(opts.Type),
		OmitBackground: playwright.Bool(opts.OmitBackground),
		FullPage:       playwright.Bool(opts.FullPage),
	}
	if opts.Type == JPEG && opts.Quality != nil {
		pwOpts.Quality = opts.Quality
	}
	if opts.Path != "" {
		pwOpts.Path = playwright.String(opts.Path)
	}
	return p.page.Screenshot(pwOpts)
}

func (p *pwPage) Close() error {
	return p.page.Close()
}

type pwElement struct {
	handle playwright.ElementHandle
}

func (e *pwElement) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	pwOpts := playwright.ElementHandleScreenshotOptions{
		Type:           screenshotType(opts.Type),
		OmitBackground: playwright.Bool(opts.OmitBackground),
	}
	if opts.Type == JPEG && opts.Quality != nil {
		pwOpts.Quality = opts.Quality
	}
	if opts.Path != "" {
		pwOpts.Path = playwright.String(opts.Path)
	}
	return e.handle.Screenshot(pwOpts)
}

func screenshotType(t ImageType) *playwright.ScreenshotType {
	if t == "" {
		t = PNG
	}
	st := playwright.ScreenshotType(t)
	return &st
}

// timeoutOption leaves the page default in effect for non-positive values.
func timeoutOption(timeout float64) *float64 {
	if timeout <= 0 {
		return nil
	}
	return playwright.Float(timeout)
}
