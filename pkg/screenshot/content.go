package screenshot

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/afero"

	"github.com/entrhq/shutter/pkg/config"
	"github.com/entrhq/shutter/pkg/engine"
)

// ErrUnsupportedContent matches every UnsupportedContentError.
var ErrUnsupportedContent = errors.New("unsupported content kind")

// UnsupportedContentError rejects a content kind that cannot be rendered.
type UnsupportedContentError struct {
	Kind ContentKind
}

func (e *UnsupportedContentError) Error() string {
	if e.Kind == KindReact {
		return "react rendering is not supported"
	}
	return fmt.Sprintf("unsupported content kind %q", string(e.Kind))
}

func (e *UnsupportedContentError) Is(target error) bool {
	return target == ErrUnsupportedContent
}

// isURL reports whether s is an absolute URL with a scheme.
func isURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	return err == nil && u.Scheme != ""
}

func (o *Orchestrator) isHTMLFile(path string) bool {
	if !strings.HasSuffix(path, ".html") {
		return false
	}
	ok, err := afero.Exists(o.fs, path)
	return err == nil && ok
}

// load puts the request's content into page according to its kind.
//
//	htmlString       literal markup
//	auto             URL, else existing .html file, else literal markup
//	vue3, vueString  literal markup, with a notice
//	react            rejected
//	anything else    nothing loaded, the blank page is captured
func (o *Orchestrator) load(page engine.Page, req Request, timeout float64) error {
	switch req.FileType {
	case KindHTMLString:
		return page.SetContent(req.File, timeout)

	case KindAuto:
		if isURL(req.File) {
			return page.Goto(req.File, timeout)
		}
		if o.isHTMLFile(req.File) {
			data, err := afero.ReadFile(o.fs, req.File)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", req.File, err)
			}
			return page.SetContent(string(data), timeout)
		}
		return page.SetContent(req.File, timeout)

	case KindVue3, KindVueString:
		o.logger.Infof("%s rendering is not supported, loading source as HTML", req.FileType)
		return page.SetContent(req.File, timeout)

	case KindReact:
		return &UnsupportedContentError{Kind: req.FileType}

	default:
		o.logger.Warnf("unknown content kind %q, nothing loaded", req.FileType)
		return nil
	}
}

// prepare loads content and waits until the page is ready to capture.
func (o *Orchestrator) prepare(page engine.Page, req Request, opts config.LaunchOptions) error {
	if len(req.Headers) > 0 {
		if err := page.SetExtraHTTPHeaders(req.Headers); err != nil {
			return fmt.Errorf("failed to set headers: %w", err)
		}
	}

	timeout := float64(req.Timeout)
	page.SetDefaultTimeout(timeout)

	if err := o.load(page, req, timeout); err != nil {
		return err
	}

	if req.SetViewport != nil {
		w, h := req.SetViewport.Size()
		if err := page.SetViewportSize(w, h); err != nil {
			return fmt.Errorf("failed to set viewport: %w", err)
		}
	}

	for _, sel := range req.WaitForSelector {
		if err := page.WaitForSelector(sel, timeout); err != nil {
			return err
		}
	}
	for _, fn := range req.WaitForFunction {
		if err := page.WaitForFunction(fn, timeout); err != nil {
			return err
		}
	}

	if grace := idleGrace(req, opts); grace > 0 {
		page.WaitForTimeout(grace)
	}
	return nil
}

// idleGrace returns the grace period in milliseconds: the request's idleTime,
// else the session's, else 500.
func idleGrace(req Request, opts config.LaunchOptions) float64 {
	if req.IdleTime.Valid {
		return float64(req.IdleTime.Int64)
	}
	return float64(opts.IdleDuration().Milliseconds())
}
