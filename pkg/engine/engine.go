// Package engine defines the browser-automation capability shutter depends on.
//
// Everything that actually renders a page lives behind these interfaces. The
// production implementation is backed by Playwright (see NewPlaywright); tests
// substitute in-memory fakes.
package engine

import "errors"

// Kind selects which browser engine to launch.
type Kind string

const (
	Chromium Kind = "chromium"
	Firefox  Kind = "firefox"
	WebKit   Kind = "webkit"
)

// Valid reports whether k names a supported engine.
func (k Kind) Valid() bool {
	switch k {
	case Chromium, Firefox, WebKit:
		return true
	}
	return false
}

// ImageType is the raster format requested from the engine.
type ImageType string

const (
	PNG  ImageType = "png"
	JPEG ImageType = "jpeg"
	WebP ImageType = "webp"
)

// ErrNotStarted is returned when the driver is used before Start.
var ErrNotStarted = errors.New("engine driver not started")

// LaunchOptions are the engine-native launch parameters.
type LaunchOptions struct {
	Headless       bool
	Args           []string
	ExecutablePath string
	Channel        string
	Proxy          string
	SlowMo         float64 // milliseconds
	Timeout        float64 // milliseconds, 0 means engine default
}

// ScreenshotOptions configures a page or element capture.
type ScreenshotOptions struct {
	Type           ImageType
	Quality        *int // only honoured for JPEG
	OmitBackground bool
	FullPage       bool
	Path           string
}

// Driver launches browser processes.
type Driver interface {
	Launch(kind Kind, opts LaunchOptions) (Browser, error)
	Stop() error
}

// Browser is one running browser process.
type Browser interface {
	// NewContext creates an isolated browsing context without a fixed viewport.
	NewContext() (Context, error)
	OnDisconnected(fn func())
	Close() error
}

// Context is a browsing context owning pages.
type Context interface {
	NewPage() (Page, error)
	Close() error
}

// Page is a single browsable surface. Timeouts are in milliseconds; zero or
// less means the page default.
type Page interface {
	Goto(url string, timeout float64) error
	SetContent(html string, timeout float64) error
	SetExtraHTTPHeaders(headers map[string]string) error
	SetDefaultTimeout(timeout float64)
	SetViewportSize(width, height int) error
	WaitForSelector(selector string, timeout float64) error
	WaitForFunction(expression string, timeout float64) error
	WaitForTimeout(timeout float64)
	Evaluate(expression string) (interface{}, error)
	// QuerySelector returns nil without error when nothing matches.
	QuerySelector(selector string) (Element, error)
	Screenshot(opts ScreenshotOptions) ([]byte, error)
	Close() error
}

// Element is a handle to a DOM element.
type Element interface {
	Screenshot(opts ScreenshotOptions) ([]byte, error)
}
