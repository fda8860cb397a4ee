package screenshot

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/entrhq/shutter/pkg/engine"
)

// settleDelay is the pause after each scroll before a slice is captured, in
// milliseconds.
const settleDelay = 100

const documentHeightScript = `Math.max(
	document.body.scrollHeight,
	document.body.offsetHeight,
	document.documentElement.clientHeight,
	document.documentElement.scrollHeight,
	document.documentElement.offsetHeight
)`

// capture takes one image. An element capture is tried first when a selector
// is set and fullPage is off; a missing element or a failed element capture
// falls back to a page capture.
func (o *Orchestrator) capture(page engine.Page, req Request) ([]byte, error) {
	opts := req.captureOptions()

	if req.Selector != "" && !req.FullPage {
		el, err := page.QuerySelector(req.Selector)
		switch {
		case err != nil:
			o.logger.Debugf("selector %q lookup failed, capturing page: %v", req.Selector, err)
		case el == nil:
			o.logger.Debugf("no element matches %q, capturing page", req.Selector)
		default:
			data, err := el.Screenshot(opts)
			if err == nil {
				return data, nil
			}
			o.logger.Debugf("element capture failed, capturing page: %v", err)
		}
	}

	opts.FullPage = req.FullPage
	data, err := page.Screenshot(opts)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

// captureSlices scrolls through the document top to bottom taking one
// viewport capture per slice.
func (o *Orchestrator) captureSlices(page engine.Page, req Request) ([][]byte, error) {
	sliceHeight := req.sliceHeight()

	total, err := documentHeight(page)
	if err != nil {
		return nil, err
	}
	count := int(math.Ceil(total / float64(sliceHeight)))
	o.logger.Debugf("document height %.0f, capturing %d slices of %d", total, count, sliceHeight)

	base := req.captureOptions()
	base.FullPage = false

	images := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if _, err := page.Evaluate(fmt.Sprintf("window.scrollTo(0, %d)", i*sliceHeight)); err != nil {
			return nil, fmt.Errorf("failed to scroll to slice %d: %w", i, err)
		}
		page.WaitForTimeout(settleDelay)

		opts := base
		opts.Path = SlicePath(req.Path, i)
		data, err := page.Screenshot(opts)
		if err != nil {
			return nil, fmt.Errorf("slice %d screenshot failed: %w", i, err)
		}
		images = append(images, data)
	}
	return images, nil
}

func documentHeight(page engine.Page) (float64, error) {
	v, err := page.Evaluate(documentHeightScript)
	if err != nil {
		return 0, fmt.Errorf("failed to measure document: %w", err)
	}
	switch h := v.(type) {
	case float64:
		return h, nil
	case int:
		return float64(h), nil
	case int64:
		return float64(h), nil
	default:
		return 0, fmt.Errorf("unexpected document height %v (%T)", v, v)
	}
}

// SlicePath names slice i of a multi-page capture: out.png becomes out-0.png,
// out-1.png and so on.
func SlicePath(path string, i int) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), i, ext)
}
