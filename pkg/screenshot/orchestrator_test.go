package screenshot

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	null "gopkg.in/guregu/null.v3"

	"github.com/entrhq/shutter/pkg/config"
	"github.com/entrhq/shutter/pkg/engine"
	"github.com/entrhq/shutter/pkg/engine/enginetest"
	"github.com/entrhq/shutter/pkg/logging"
)

// stubPages lends the same fake page to every attempt.
type stubPages struct {
	mu    sync.Mutex
	page  *enginetest.Page
	opts  config.LaunchOptions
	calls int
	err   error
}

func newStubPages() *stubPages {
	return &stubPages{
		page: &enginetest.Page{DocHeight: 600, HasElement: true},
		opts: config.Defaults(),
	}
}

func (s *stubPages) WithPage(ctx context.Context, fn func(engine.Page, config.LaunchOptions) error) error {
	s.mu.Lock()
	s.calls++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(s.page, s.opts)
}

type harness struct {
	pages   *stubPages
	hook    *test.Hook
	metrics *Metrics
	fs      afero.Fs
	orch    *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	h := &harness{
		pages:   newStubPages(),
		hook:    hook,
		metrics: NewMetrics(nil),
		fs:      afero.NewMemMapFs(),
	}
	h.orch = New(h.pages,
		WithFs(h.fs),
		WithLogger(logging.New(base, "screenshot")),
		WithMetrics(h.metrics),
	)
	return h
}

func (h *harness) count(level logrus.Level) int {
	n := 0
	for _, e := range h.hook.AllEntries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// failFirst makes SetContent fail the first n times.
func failFirst(p *enginetest.Page, n int) {
	var mu sync.Mutex
	calls := 0
	p.SetContentFunc = func(string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= n {
			return enginetest.ErrFake
		}
		return nil
	}
}

func TestMultiPageProducesOrderedSlices(t *testing.T) {
	h := newHarness(t)
	h.pages.page.DocHeight = 2000

	res := h.orch.Screenshot(context.Background(), Request{
		File:      "<div>tall</div>",
		MultiPage: MultiPageHeight(800),
	})

	require.True(t, res.Status, res.Message)
	assert.True(t, res.Multi)
	assert.Equal(t, [][]byte{[]byte("page@0"), []byte("page@800"), []byte("page@1600")}, res.Images)
	assert.Equal(t, []int{0, 800, 1600}, h.pages.page.Scrolls)

	pageShots, elementShots := h.pages.page.Snapshot()
	assert.Empty(t, elementShots)
	require.Len(t, pageShots, 3)
	for _, shot := range pageShots {
		assert.False(t, shot.FullPage)
	}
	// Grace period followed by one settle delay per slice
	assert.Equal(t, []float64{500, 100, 100, 100}, h.pages.page.Sleeps)
}

func TestMultiPageSliceHeight(t *testing.T) {
	tests := []struct {
		name      string
		docHeight float64
		req       Request
		want      []int
	}{
		{"explicit height", 1000, Request{MultiPage: MultiPageHeight(400)}, []int{0, 400, 800}},
		{"viewport height", 1200, Request{MultiPage: MultiPage{Enabled: true}, SetViewport: &Viewport{Height: 500}}, []int{0, 500, 1000}},
		{"default height", 1600, Request{MultiPage: MultiPage{Enabled: true}}, []int{0, 800}},
		{"exact fit", 800, Request{MultiPage: MultiPage{Enabled: true}}, []int{0}},
		{"empty viewport falls back to 800", 801, Request{MultiPage: MultiPage{Enabled: true}, SetViewport: &Viewport{Width: 300}}, []int{0, 800}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.pages.page.DocHeight = tt.docHeight

			res := h.orch.Screenshot(context.Background(), tt.req)
			require.True(t, res.Status, res.Message)
			assert.Equal(t, tt.want, h.pages.page.Scrolls)
			assert.Len(t, res.Images, len(tt.want))
		})
	}
}

func TestMultiPageSlicePaths(t *testing.T) {
	h := newHarness(t)
	h.pages.page.DocHeight = 1600

	res := h.orch.Screenshot(context.Background(), Request{
		MultiPage: MultiPage{Enabled: true},
		Path:      "/out/shot.png",
	})
	require.True(t, res.Status)

	pageShots, _ := h.pages.page.Snapshot()
	require.Len(t, pageShots, 2)
	assert.Equal(t, "/out/shot-0.png", pageShots[0].Path)
	assert.Equal(t, "/out/shot-1.png", pageShots[1].Path)
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	clean := newHarness(t)
	want := clean.orch.Screenshot(context.Background(), Request{File: "<p>x</p>", Retry: 3})
	require.True(t, want.Status)

	h := newHarness(t)
	failFirst(h.pages.page, 2)

	got := h.orch.Screenshot(context.Background(), Request{File: "<p>x</p>", Retry: 3})

	assert.Equal(t, want, got)
	assert.Equal(t, 3, h.pages.calls)
	assert.Equal(t, 2, h.count(logrus.WarnLevel))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.Attempts.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Attempts.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Renders.WithLabelValues("ok")))
}

func TestRetryBudgetOfOneNeverRetries(t *testing.T) {
	h := newHarness(t)
	failFirst(h.pages.page, 5)

	res := h.orch.Screenshot(context.Background(), Request{File: "<p>x</p>", Retry: 1})

	assert.False(t, res.Status)
	assert.Equal(t, 1, h.pages.calls)
	assert.ErrorIs(t, res.Err, enginetest.ErrFake)
	assert.Equal(t, enginetest.ErrFake.Error(), res.Message)
	assert.Equal(t, 1, h.count(logrus.WarnLevel))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Renders.WithLabelValues("failed")))
}

func TestRetryClampedToOne(t *testing.T) {
	for _, retry := range []int{0, -3} {
		h := newHarness(t)
		h.pages.err = enginetest.ErrFake

		res := h.orch.Screenshot(context.Background(), Request{Retry: retry})
		assert.False(t, res.Status)
		assert.Equal(t, 1, h.pages.calls)
	}
}

func TestRetryExhaustedReturnsLastError(t *testing.T) {
	h := newHarness(t)
	h.pages.err = errors.New("no page for you")

	res := h.orch.Screenshot(context.Background(), Request{Retry: 3})

	assert.False(t, res.Status)
	assert.Equal(t, 3, h.pages.calls)
	assert.Equal(t, "no page for you", res.Message)
	assert.Equal(t, 3, h.count(logrus.WarnLevel))
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.orch.Screenshot(ctx, Request{Retry: 3})

	assert.False(t, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, h.pages.calls)
	assert.Equal(t, 1, h.count(logrus.WarnLevel))
}

func TestSelectorMissFallsBackToPageCapture(t *testing.T) {
	h := newHarness(t)
	h.pages.page.HasElement = false

	res := h.orch.Screenshot(context.Background(), Request{Selector: "#missing"})

	require.True(t, res.Status, res.Message)
	assert.Equal(t, []byte("page@0"), res.Value())
	pageShots, elementShots := h.pages.page.Snapshot()
	assert.Empty(t, elementShots)
	require.Len(t, pageShots, 1)
	assert.False(t, pageShots[0].FullPage)
	assert.Equal(t, 0, h.count(logrus.WarnLevel))
}

func TestElementCaptureErrorFallsBack(t *testing.T) {
	h := newHarness(t)
	h.pages.page.ElementShotFunc = func(engine.ScreenshotOptions) ([]byte, error) {
		return nil, enginetest.ErrFake
	}

	res := h.orch.Screenshot(context.Background(), Request{})

	require.True(t, res.Status, res.Message)
	assert.Equal(t, []byte("page@0"), res.Value())
	pageShots, elementShots := h.pages.page.Snapshot()
	assert.Len(t, elementShots, 1)
	assert.Len(t, pageShots, 1)
}

func TestElementCaptureIsDefault(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Screenshot(context.Background(), Request{})

	require.True(t, res.Status)
	assert.Equal(t, []byte("element:body"), res.Value())
}

func TestFullPageSkipsElementCapture(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Screenshot(context.Background(), Request{Selector: "#box", FullPage: true})

	require.True(t, res.Status)
	pageShots, elementShots := h.pages.page.Snapshot()
	assert.Empty(t, elementShots)
	require.Len(t, pageShots, 1)
	assert.True(t, pageShots[0].FullPage)
}

func TestPageCaptureFailureIsAnError(t *testing.T) {
	h := newHarness(t)
	h.pages.page.HasElement = false
	h.pages.page.ScreenshotFunc = func(engine.ScreenshotOptions) ([]byte, error) {
		return nil, enginetest.ErrFake
	}

	res := h.orch.Screenshot(context.Background(), Request{})
	assert.False(t, res.Status)
	assert.ErrorIs(t, res.Err, enginetest.ErrFake)
}

func TestEncoding(t *testing.T) {
	t.Run("base64 multi-page keeps slice order", func(t *testing.T) {
		h := newHarness(t)
		h.pages.page.DocHeight = 2000

		res := h.orch.Screenshot(context.Background(), Request{
			MultiPage: MultiPageHeight(800),
			Encoding:  Base64,
		})

		require.True(t, res.Status)
		assert.Nil(t, res.Images)
		assert.Equal(t, []string{
			base64.StdEncoding.EncodeToString([]byte("page@0")),
			base64.StdEncoding.EncodeToString([]byte("page@800")),
			base64.StdEncoding.EncodeToString([]byte("page@1600")),
		}, res.Value())
	})

	t.Run("binary multi-page keeps slice order", func(t *testing.T) {
		h := newHarness(t)
		h.pages.page.DocHeight = 2000

		res := h.orch.Screenshot(context.Background(), Request{MultiPage: MultiPageHeight(800)})

		require.True(t, res.Status)
		assert.Nil(t, res.Encoded)
		assert.Equal(t, [][]byte{[]byte("page@0"), []byte("page@800"), []byte("page@1600")}, res.Value())
	})

	t.Run("base64 single capture is a string", func(t *testing.T) {
		h := newHarness(t)

		res := h.orch.Screenshot(context.Background(), Request{Encoding: Base64})

		require.True(t, res.Status)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("element:body")), res.Value())
		assert.Equal(t, 1, res.Count())
	})
}

func TestQualityOnlyForJPEG(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want *int
	}{
		{"png ignores quality", Request{Type: engine.PNG, Quality: null.IntFrom(50)}, nil},
		{"webp ignores quality", Request{Type: engine.WebP, Quality: null.IntFrom(50)}, nil},
		{"jpeg uses quality", Request{Type: engine.JPEG, Quality: null.IntFrom(50)}, intPtr(50)},
		{"jpeg default quality", Request{Type: engine.JPEG}, intPtr(90)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			res := h.orch.Screenshot(context.Background(), tt.req)
			require.True(t, res.Status, res.Message)

			_, elementShots := h.pages.page.Snapshot()
			require.Len(t, elementShots, 1)
			assert.Equal(t, tt.want, elementShots[0].Quality)
			assert.Equal(t, tt.req.Type, elementShots[0].Type)
		})
	}
}

func intPtr(v int) *int { return &v }

func TestContentKindPolicy(t *testing.T) {
	tests := []struct {
		name        string
		req         Request
		wantURL     string
		wantContent string
		wantErr     string
	}{
		{"html string", Request{FileType: KindHTMLString, File: "https://not.navigated"}, "", "https://not.navigated", ""},
		{"auto url", Request{File: "https://example.com/page"}, "https://example.com/page", "", ""},
		{"auto html file", Request{File: "/site/index.html"}, "", "<h1>from disk</h1>", ""},
		{"auto missing html file", Request{File: "/site/missing.html"}, "", "/site/missing.html", ""},
		{"auto markup", Request{File: "<b>hi</b>"}, "", "<b>hi</b>", ""},
		{"vue3 degrades", Request{FileType: KindVue3, File: "<App/>"}, "", "<App/>", ""},
		{"vueString degrades", Request{FileType: KindVueString, File: "<App/>"}, "", "<App/>", ""},
		{"react rejected", Request{FileType: KindReact, File: "<App/>"}, "", "", "react rendering is not supported"},
		{"unknown loads nothing", Request{FileType: "svelte", File: "<App/>"}, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, afero.WriteFile(h.fs, "/site/index.html", []byte("<h1>from disk</h1>"), 0644))

			res := h.orch.Screenshot(context.Background(), tt.req)

			if tt.wantErr != "" {
				assert.False(t, res.Status)
				assert.Equal(t, tt.wantErr, res.Message)
				assert.ErrorIs(t, res.Err, ErrUnsupportedContent)
				return
			}
			require.True(t, res.Status, res.Message)
			assert.Equal(t, tt.wantURL, h.pages.page.URL)
			assert.Equal(t, tt.wantContent, h.pages.page.Content)
		})
	}
}

func TestVueDegradationIsLogged(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Screenshot(context.Background(), Request{FileType: KindVue3, File: "<App/>"})
	require.True(t, res.Status)

	found := false
	for _, e := range h.hook.AllEntries() {
		if e.Level == logrus.InfoLevel && e.Message == "vue3 rendering is not supported, loading source as HTML" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestUnknownKindCapturesBlankPage(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Screenshot(context.Background(), Request{FileType: "svelte", File: "<App/>"})

	require.True(t, res.Status, res.Message)
	assert.NoError(t, res.Err)
	assert.Len(t, res.Images, 1)
	assert.Empty(t, h.pages.page.URL)
	assert.Empty(t, h.pages.page.Content)
	assert.Equal(t, 1, h.count(logrus.WarnLevel))
}

func TestPrepare(t *testing.T) {
	h := newHarness(t)
	page := h.pages.page

	res := h.orch.Screenshot(context.Background(), Request{
		File:            "<p>x</p>",
		Headers:         map[string]string{"X-Token": "abc"},
		Timeout:         5000,
		SetViewport:     &Viewport{},
		WaitForSelector: StringList{"#a", "#b"},
		WaitForFunction: StringList{"window.ready"},
		IdleTime:        null.IntFrom(250),
	})

	require.True(t, res.Status, res.Message)
	assert.Equal(t, map[string]string{"X-Token": "abc"}, page.Headers)
	assert.Equal(t, float64(5000), page.DefaultTimeout)
	assert.Equal(t, [2]int{800, 600}, page.Viewport)
	assert.Equal(t, []string{"selector:#a", "selector:#b", "function:window.ready"}, page.Waits)
	assert.Equal(t, []float64{250}, page.Sleeps)
}

func TestPrepareDefaults(t *testing.T) {
	h := newHarness(t)
	page := h.pages.page

	res := h.orch.Screenshot(context.Background(), Request{File: "<p>x</p>"})

	require.True(t, res.Status)
	assert.Nil(t, page.Headers)
	assert.Equal(t, float64(DefaultTimeout), page.DefaultTimeout)
	assert.Equal(t, [2]int{}, page.Viewport, "viewport untouched unless requested")
	assert.Empty(t, page.Waits)
}

func TestSelectorWaitFailureAbortsAttempt(t *testing.T) {
	h := newHarness(t)
	page := h.pages.page
	page.WaitForSelectorFunc = func(sel string) error {
		if sel == "#b" {
			return enginetest.ErrFake
		}
		return nil
	}

	res := h.orch.Screenshot(context.Background(), Request{
		WaitForSelector: StringList{"#a", "#b", "#c"},
		WaitForFunction: StringList{"true"},
	})

	assert.False(t, res.Status)
	assert.Equal(t, []string{"selector:#a", "selector:#b"}, page.Waits)
	pageShots, elementShots := page.Snapshot()
	assert.Empty(t, pageShots)
	assert.Empty(t, elementShots)
}

func TestIdleGrace(t *testing.T) {
	tests := []struct {
		name    string
		reqIdle null.Int
		session config.LaunchOptions
		want    []float64
	}{
		{"session default", null.Int{}, config.Defaults(), []float64{500}},
		{"session configured", null.Int{}, config.Defaults().Apply(config.LaunchOptions{IdleTime: null.IntFrom(120)}), []float64{120}},
		{"request overrides", null.IntFrom(40), config.Defaults(), []float64{40}},
		{"zero disables", null.IntFrom(0), config.Defaults(), nil},
		{"negative disables", null.IntFrom(-1), config.Defaults(), nil},
		{"session zero disables", null.Int{}, config.Defaults().Apply(config.LaunchOptions{IdleTime: null.IntFrom(0)}), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.pages.opts = tt.session

			res := h.orch.Screenshot(context.Background(), Request{IdleTime: tt.reqIdle})
			require.True(t, res.Status)
			assert.Equal(t, tt.want, h.pages.page.Sleeps)
		})
	}
}

func TestInvalidRequestIsNotAttempted(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Screenshot(context.Background(), Request{MultiPage: MultiPageHeight(-10)})

	assert.False(t, res.Status)
	assert.ErrorIs(t, res.Err, ErrInvalidRequest)
	assert.Equal(t, 0, h.pages.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Renders.WithLabelValues("invalid")))
}

func TestAttemptsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	h := newHarness(t)
	h.orch.tracer = provider.Tracer("test")
	failFirst(h.pages.page, 1)

	res := h.orch.Screenshot(context.Background(), Request{File: "<p>x</p>", Retry: 2})
	require.True(t, res.Status)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "screenshot.attempt", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEqual(t, codes.Error, spans[1].Status().Code)
}
