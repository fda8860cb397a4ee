package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	null "gopkg.in/guregu/null.v3"

	"github.com/entrhq/shutter/pkg/engine"
	"github.com/entrhq/shutter/pkg/screenshot"
)

type renderCmd struct {
	gs *globalState

	output    string
	fileType  string
	selector  string
	imageType string
	quality   int
	fullPage  bool
	omitBG    bool
	multiPage bool
	sliceH    int
	width     int
	height    int
	waitSel   []string
	waitFunc  []string
	headers   map[string]string
	timeout   int
	idleTime  int
	retry     int
	install   bool
}

func newRenderCmd(gs *globalState) *cobra.Command {
	c := &renderCmd{gs: gs}
	cmd := &cobra.Command{
		Use:   "render <url|file.html|html>",
		Short: "Capture a single screenshot and exit",
		Example: `  shutter render https://example.com -o example.png
  shutter render report.html --full-page --type jpeg -o report.jpeg
  shutter render long.html --multi-page --slice-height 1000 -o long.png`,
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.StringVarP(&c.output, "output", "o", "screenshot.png", "output file; multi-page slices get an index suffix")
	flags.StringVar(&c.fileType, "file-type", string(screenshot.KindAuto), "content kind: auto, htmlString, vue3, vueString or react")
	flags.StringVar(&c.selector, "selector", screenshot.DefaultSelector, "element to capture")
	flags.StringVar(&c.imageType, "type", "", "image type: png or jpeg (default from output extension)")
	flags.IntVar(&c.quality, "quality", screenshot.DefaultQuality, "jpeg quality")
	flags.BoolVar(&c.fullPage, "full-page", false, "capture the whole scrollable page")
	flags.BoolVar(&c.omitBG, "omit-background", false, "transparent background")
	flags.BoolVar(&c.multiPage, "multi-page", false, "capture the page in viewport-sized slices")
	flags.IntVar(&c.sliceH, "slice-height", 0, "slice height for --multi-page (default viewport height)")
	flags.IntVar(&c.width, "width", screenshot.DefaultViewportWidth, "viewport width")
	flags.IntVar(&c.height, "height", screenshot.DefaultViewportHeight, "viewport height")
	flags.StringArrayVar(&c.waitSel, "wait-for-selector", nil, "selector to wait for, repeatable")
	flags.StringArrayVar(&c.waitFunc, "wait-for-function", nil, "expression to wait for, repeatable")
	flags.StringToStringVar(&c.headers, "header", nil, "extra HTTP header as name=value, repeatable")
	flags.IntVar(&c.timeout, "timeout", screenshot.DefaultTimeout, "load and wait timeout in milliseconds")
	flags.IntVar(&c.idleTime, "idle-time", -1, "post-load grace in milliseconds (default from config)")
	flags.IntVar(&c.retry, "retry", screenshot.DefaultRetry, "attempts before giving up")
	flags.BoolVar(&c.install, "install", true, "install the configured browser before launching")
	return cmd
}

func (c *renderCmd) request(source string) screenshot.Request {
	req := screenshot.Request{
		File:            source,
		FileType:        screenshot.ContentKind(c.fileType),
		Selector:        c.selector,
		Type:            engine.ImageType(c.imageType),
		Quality:         null.IntFrom(int64(c.quality)),
		OmitBackground:  c.omitBG,
		FullPage:        c.fullPage,
		SetViewport:     &screenshot.Viewport{Width: c.width, Height: c.height},
		Headers:         c.headers,
		WaitForSelector: c.waitSel,
		WaitForFunction: c.waitFunc,
		Timeout:         c.timeout,
		Encoding:        screenshot.Binary,
		Retry:           c.retry,
	}
	if req.Type == "" {
		req.Type = imageTypeFor(c.output)
	}
	if c.multiPage {
		req.MultiPage = screenshot.MultiPage{Enabled: true, Height: c.sliceH}
	}
	if c.idleTime >= 0 {
		req.IdleTime = null.IntFrom(int64(c.idleTime))
	}
	return req
}

func (c *renderCmd) run(cmd *cobra.Command, args []string) error {
	gs := c.gs
	req := c.request(args[0])
	if req.Type == engine.WebP {
		return errors.New("webp capture is not supported, use png or jpeg")
	}

	store, err := gs.store(nil)
	if err != nil {
		return err
	}
	opts, err := gs.launchOptions(store)
	if err != nil {
		return err
	}

	manager, err := gs.startBrowser(opts, c.install, nil)
	if err != nil {
		return err
	}
	defer func() { _ = manager.Close() }()

	orchestrator := screenshot.New(manager,
		screenshot.WithFs(gs.fs),
		screenshot.WithLogger(gs.logger.With("screenshot")),
	)
	res := orchestrator.Screenshot(cmd.Context(), req)
	if !res.Status {
		return fmt.Errorf("render failed: %s", res.Message)
	}

	for i, img := range res.Images {
		path := c.output
		if res.Multi {
			path = screenshot.SlicePath(c.output, i)
		}
		if err := writeImage(gs.fs, path, img); err != nil {
			return err
		}
		fmt.Fprintf(gs.stdout, "%s %s (%s)\n", okColor.Sprint("wrote"), path, humanize.Bytes(uint64(len(img))))
	}
	return nil
}

func writeImage(fs afero.Fs, path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func imageTypeFor(path string) engine.ImageType {
	switch filepath.Ext(path) {
	case ".jpg", ".jpeg":
		return engine.JPEG
	case ".webp":
		return engine.WebP
	default:
		return engine.PNG
	}
}
