// Package screenshot turns render requests into images using pages from a
// browser session.
package screenshot

import (
	"context"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/entrhq/shutter/pkg/config"
	"github.com/entrhq/shutter/pkg/engine"
	"github.com/entrhq/shutter/pkg/logging"
)

const tracerName = "github.com/entrhq/shutter/pkg/screenshot"

// PageSource lends a page for the duration of fn. *browser.Manager
// implements it.
type PageSource interface {
	WithPage(ctx context.Context, fn func(page engine.Page, opts config.LaunchOptions) error) error
}

// Orchestrator runs screenshot requests with retry.
type Orchestrator struct {
	pages   PageSource
	fs      afero.Fs
	logger  *logging.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFs sets the filesystem used to read .html files.
func WithFs(fs afero.Fs) Option {
	return func(o *Orchestrator) { o.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New returns an orchestrator drawing pages from pages.
func New(pages PageSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{pages: pages}
	for _, opt := range opts {
		opt(o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.logger == nil {
		o.logger = logging.NewNullLogger()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// Screenshot runs req up to its retry budget. Failures are reported in the
// Result, never as a panic or raw engine error.
func (o *Orchestrator) Screenshot(ctx context.Context, req Request) Result {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		o.metrics.Renders.WithLabelValues("invalid").Inc()
		return failure(err)
	}

	var lastErr error
	for i := 1; i <= req.Retry; i++ {
		images, err := o.attempt(ctx, req, i)
		if err == nil {
			o.metrics.Renders.WithLabelValues("ok").Inc()
			return success(req, images)
		}

		lastErr = err
		o.logger.Warnf("screenshot attempt %d/%d failed: %v", i, req.Retry, err)
		if ctx.Err() != nil {
			break
		}
	}

	o.metrics.Renders.WithLabelValues("failed").Inc()
	return failure(lastErr)
}

// attempt performs one acquire, prepare, capture, release cycle.
func (o *Orchestrator) attempt(ctx context.Context, req Request, n int) ([][]byte, error) {
	ctx, span := o.tracer.Start(ctx, "screenshot.attempt", trace.WithAttributes(
		attribute.Int("shutter.attempt", n),
		attribute.String("shutter.file_type", string(req.FileType)),
		attribute.String("shutter.image_type", string(req.Type)),
		attribute.Bool("shutter.multi_page", req.MultiPage.Enabled),
	))
	defer span.End()

	start := time.Now()
	var images [][]byte
	err := ctx.Err()
	if err == nil {
		err = o.pages.WithPage(ctx, func(page engine.Page, opts config.LaunchOptions) error {
			if err := o.prepare(page, req, opts); err != nil {
				return err
			}
			if req.MultiPage.Enabled {
				var err error
				images, err = o.captureSlices(page, req)
				return err
			}
			data, err := o.capture(page, req)
			if err != nil {
				return err
			}
			images = [][]byte{data}
			return nil
		})
	}
	o.metrics.Duration.Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.Attempts.WithLabelValues("error").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.Int("shutter.images", len(images)))
	o.metrics.Attempts.WithLabelValues("ok").Inc()
	return images, nil
}
