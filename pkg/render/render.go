// Package render is the boundary between a host and the screenshot
// orchestrator. Hosts look renderers up by name in a Registry.
package render

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/entrhq/shutter/pkg/engine"
	"github.com/entrhq/shutter/pkg/logging"
	"github.com/entrhq/shutter/pkg/screenshot"
)

// Renderer renders one request. A failed render returns the failure result
// together with a *Error.
type Renderer interface {
	Render(ctx context.Context, req screenshot.Request) (screenshot.Result, error)
}

// Screenshotter is the orchestrator capability the adapter wraps.
type Screenshotter interface {
	Screenshot(ctx context.Context, req screenshot.Request) screenshot.Result
}

// Error is a failed render. Unwrap yields the terminal attempt error.
type Error struct {
	Renderer string
	File     string
	Message  string
	Result   screenshot.Result
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Result.Err
}

// Adapter fixes up host requests before they reach the orchestrator: output
// is always base64 and webp is captured as png.
type Adapter struct {
	name   string
	shots  Screenshotter
	logger *logging.Logger
}

// NewAdapter wraps shots under name.
func NewAdapter(name string, shots Screenshotter, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Adapter{name: name, shots: shots, logger: logger}
}

// Name returns the renderer name.
func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) Render(ctx context.Context, req screenshot.Request) (screenshot.Result, error) {
	req.Encoding = screenshot.Base64
	if req.Type == engine.WebP {
		req.Type = engine.PNG
	}

	start := time.Now()
	res := a.shots.Screenshot(ctx, req)
	elapsed := time.Since(start).Milliseconds()
	file := fileLabel(req.File)

	if !res.Status {
		a.logger.Infof("[%s][%s] screenshot failed after %d ms", a.name, file, elapsed)
		msg := res.Message
		if msg == "" {
			msg = "screenshot failed"
		}
		return res, &Error{Renderer: a.name, File: file, Message: msg, Result: res}
	}

	a.logger.Infof("[%s][%s] screenshot done, size %s in %d ms", a.name, file, humanize.Bytes(uint64(res.Bytes)), elapsed)
	return res, nil
}

// fileLabel names the source in log lines: the last path element of a URL
// or file, "inline" for markup.
func fileLabel(file string) string {
	if u, err := url.ParseRequestURI(file); err == nil && u.Scheme != "" {
		if base := filepath.Base(u.Path); base != "." && base != "/" {
			return base
		}
		return u.Host
	}
	if strings.ContainsAny(file, "<>\n") || file == "" {
		return "inline"
	}
	return filepath.Base(file)
}

// Registry maps renderer names to renderers.
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]Renderer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{renderers: make(map[string]Renderer)}
}

// Register adds r under name. Names are unique.
func (r *Registry) Register(name string, renderer Renderer) error {
	if name == "" {
		return fmt.Errorf("renderer name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.renderers[name]; exists {
		return fmt.Errorf("renderer %q already registered", name)
	}
	r.renderers[name] = renderer
	return nil
}

// Get returns the renderer registered under name.
func (r *Registry) Get(name string) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	renderer, ok := r.renderers[name]
	return renderer, ok
}

// Names lists registered renderers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.renderers))
	for name := range r.renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render dispatches to the named renderer.
func (r *Registry) Render(ctx context.Context, name string, req screenshot.Request) (screenshot.Result, error) {
	renderer, ok := r.Get(name)
	if !ok {
		return screenshot.Result{}, fmt.Errorf("renderer %q not found", name)
	}
	return renderer.Render(ctx, req)
}
