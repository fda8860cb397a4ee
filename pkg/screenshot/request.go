package screenshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	null "gopkg.in/guregu/null.v3"

	"github.com/entrhq/shutter/pkg/engine"
)

// Request defaults
const (
	DefaultSelector       = "body"
	DefaultQuality        = 90
	DefaultTimeout        = 30000 // milliseconds
	DefaultViewportWidth  = 800
	DefaultViewportHeight = 600
	DefaultSliceHeight    = 800
	DefaultRetry          = 1
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid render request")

// ContentKind declares how Request.File is interpreted.
type ContentKind string

const (
	KindAuto       ContentKind = "auto"
	KindHTMLString ContentKind = "htmlString"
	KindVue3       ContentKind = "vue3"
	KindVueString  ContentKind = "vueString"
	KindReact      ContentKind = "react"
)

// Encoding selects the output representation.
type Encoding string

const (
	Binary Encoding = "binary"
	Base64 Encoding = "base64"
)

// Viewport is a requested page size in CSS pixels. Zero fields take defaults.
type Viewport struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Size returns the effective width and height.
func (v Viewport) Size() (int, int) {
	w, h := v.Width, v.Height
	if w <= 0 {
		w = DefaultViewportWidth
	}
	if h <= 0 {
		h = DefaultViewportHeight
	}
	return w, h
}

// MultiPage asks for the document to be captured in vertical slices. In JSON
// it is false, true (slice height from the viewport) or a pixel height.
type MultiPage struct {
	Enabled bool
	Height  int
}

// MultiPageHeight returns an enabled MultiPage with an explicit slice height.
func MultiPageHeight(h int) MultiPage {
	return MultiPage{Enabled: true, Height: h}
}

func (m MultiPage) MarshalJSON() ([]byte, error) {
	if m.Enabled && m.Height > 0 {
		return []byte(strconv.Itoa(m.Height)), nil
	}
	return json.Marshal(m.Enabled)
}

func (m *MultiPage) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = MultiPage{}
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*m = MultiPage{Enabled: b}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("multiPage must be a boolean or a number: %w", err)
	}
	// A zero height is falsy and disables slicing
	*m = MultiPage{Enabled: f != 0, Height: int(f)}
	return nil
}

// StringList accepts either a single string or an array of strings in JSON.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected a string or a list of strings: %w", err)
	}
	*s = many
	return nil
}

// Request describes one screenshot job.
type Request struct {
	// File is a URL, a path to an .html file, or literal markup.
	File     string      `json:"file"`
	FileType ContentKind `json:"file_type,omitempty"`

	// Selector scopes a single capture to one element.
	Selector       string           `json:"selector,omitempty"`
	Type           engine.ImageType `json:"type,omitempty"`
	Quality        null.Int         `json:"quality"`
	OmitBackground bool             `json:"omitBackground,omitempty"`
	FullPage       bool             `json:"fullPage,omitempty"`
	MultiPage      MultiPage        `json:"multiPage"`
	SetViewport    *Viewport        `json:"setViewport,omitempty"`

	Headers         map[string]string `json:"headers,omitempty"`
	WaitForSelector StringList        `json:"waitForSelector,omitempty"`
	WaitForFunction StringList        `json:"waitForFunction,omitempty"`

	// Timeout bounds each load and wait step, in milliseconds.
	Timeout int `json:"timeout,omitempty"`

	// IdleTime is the post-load grace period in milliseconds. Null falls back
	// to the session's idleTime; zero or negative skips the wait.
	IdleTime null.Int `json:"idleTime"`

	Encoding Encoding `json:"encoding,omitempty"`
	Retry    int      `json:"retry,omitempty"`

	// Path additionally writes the capture to disk. Multi-page slices get an
	// index suffix.
	Path string `json:"path,omitempty"`
}

// WithDefaults returns a copy with every unset field filled in.
func (r Request) WithDefaults() Request {
	if r.FileType == "" {
		r.FileType = KindAuto
	}
	if r.Selector == "" {
		r.Selector = DefaultSelector
	}
	if r.Type == "" {
		r.Type = engine.PNG
	}
	if !r.Quality.Valid {
		r.Quality = null.IntFrom(DefaultQuality)
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultTimeout
	}
	if r.Encoding == "" {
		r.Encoding = Binary
	}
	if r.Retry < 1 {
		r.Retry = DefaultRetry
	}
	return r
}

// Validate checks the fields that cannot be coerced.
func (r Request) Validate() error {
	switch r.Type {
	case "", engine.PNG, engine.JPEG, engine.WebP:
	default:
		return fmt.Errorf("%w: unknown image type %q", ErrInvalidRequest, r.Type)
	}
	switch r.Encoding {
	case "", Binary, Base64:
	default:
		return fmt.Errorf("%w: unknown encoding %q", ErrInvalidRequest, r.Encoding)
	}
	if r.MultiPage.Height < 0 {
		return fmt.Errorf("%w: multiPage height must be positive, got %d", ErrInvalidRequest, r.MultiPage.Height)
	}
	if v := r.SetViewport; v != nil && (v.Width < 0 || v.Height < 0) {
		return fmt.Errorf("%w: viewport dimensions must not be negative", ErrInvalidRequest)
	}
	return nil
}

// sliceHeight is the explicit height, else the viewport height, else 800.
func (r Request) sliceHeight() int {
	if r.MultiPage.Height > 0 {
		return r.MultiPage.Height
	}
	if r.SetViewport != nil && r.SetViewport.Height > 0 {
		return r.SetViewport.Height
	}
	return DefaultSliceHeight
}

// captureOptions maps the request to engine options. Quality is only passed
// for jpeg.
func (r Request) captureOptions() engine.ScreenshotOptions {
	opts := engine.ScreenshotOptions{
		Type:           r.Type,
		OmitBackground: r.OmitBackground,
		Path:           r.Path,
	}
	if r.Type == engine.JPEG && r.Quality.Valid {
		q := int(r.Quality.Int64)
		opts.Quality = &q
	}
	return opts
}
