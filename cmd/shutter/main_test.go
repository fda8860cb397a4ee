package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/shutter/pkg/config"
	"github.com/entrhq/shutter/pkg/engine"
	"github.com/entrhq/shutter/pkg/engine/enginetest"
	"github.com/entrhq/shutter/pkg/install"
	"github.com/entrhq/shutter/pkg/logging"
)

const testConfigPath = "/cfg/config.json"

type testState struct {
	*globalState
	out      *bytes.Buffer
	driver   *enginetest.Driver
	installs []*playwright.RunOptions
	failWith error
}

func newTestState(t *testing.T) *testState {
	t.Helper()
	ts := &testState{out: &bytes.Buffer{}, driver: enginetest.NewDriver()}
	ts.globalState = &globalState{
		stdout: ts.out,
		stderr: ts.out,
		fs:     afero.NewMemMapFs(),
		logger: logging.NewNullLogger(),
		newDriver: func() (engine.Driver, error) {
			return ts.driver, nil
		},
	}
	ts.installer = install.New(
		install.WithOutput(ts.out),
		install.WithInstallFunc(func(opts ...*playwright.RunOptions) error {
			ts.installs = append(ts.installs, opts...)
			return ts.failWith
		}),
	)
	return ts
}

func (ts *testState) run(args ...string) error {
	cmd := newRootCmd(ts.globalState)
	cmd.SetArgs(append([]string{"--config", testConfigPath, "--env-file", ""}, args...))
	return cmd.ExecuteContext(context.Background())
}

func (ts *testState) read(t *testing.T, path string) string {
	t.Helper()
	data, err := afero.ReadFile(ts.fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestRenderCommandWritesImage(t *testing.T) {
	ts := newTestState(t)

	require.NoError(t, ts.run("render", "<p id='x'>hi</p>", "--selector", "#x", "-o", "/out/shot.png", "--install=false"))
	assert.Equal(t, "element:#x", ts.read(t, "/out/shot.png"))
	assert.Contains(t, ts.out.String(), "/out/shot.png")
	assert.Empty(t, ts.installs)
	assert.Equal(t, 0, ts.driver.LiveBrowsers())
}

func TestRenderCommandMultiPage(t *testing.T) {
	ts := newTestState(t)

	require.NoError(t, ts.run("render", "<p>long</p>", "--multi-page", "--slice-height", "200", "-o", "/out/long.png", "--install=false"))
	assert.Equal(t, "page@0", ts.read(t, "/out/long-0.png"))
	assert.Equal(t, "page@200", ts.read(t, "/out/long-1.png"))
	assert.Equal(t, "page@400", ts.read(t, "/out/long-2.png"))
	exists, err := afero.Exists(ts.fs, "/out/long-3.png")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRenderCommandInstallsConfiguredBrowser(t *testing.T) {
	ts := newTestState(t)

	require.NoError(t, ts.run("config", "set", "downloadBrowser=webkit"))
	require.NoError(t, ts.run("render", "<p/>", "-o", "/out/a.png"))
	require.Len(t, ts.installs, 1)
	assert.Equal(t, []string{"webkit"}, ts.installs[0].Browsers)
	require.Len(t, ts.driver.Browsers, 1)
	assert.Equal(t, engine.WebKit, ts.driver.Browsers[0].Kind)
}

func TestRenderCommandFailure(t *testing.T) {
	ts := newTestState(t)
	ts.driver.Configure = func(p *enginetest.Page) {
		p.SetContentFunc = func(string) error { return enginetest.ErrFake }
	}

	err := ts.run("render", "<p/>", "-o", "/out/a.png", "--install=false", "--retry", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), enginetest.ErrFake.Error())
}

func TestRenderCommandLaunchFailure(t *testing.T) {
	ts := newTestState(t)
	ts.driver.LaunchErr = enginetest.ErrFake

	err := ts.run("render", "<p/>", "--install=false")
	assert.ErrorIs(t, err, enginetest.ErrFake)
}

func TestRenderCommandRejectsWebP(t *testing.T) {
	for _, args := range [][]string{
		{"-o", "/out/a.webp"},
		{"-o", "/out/a.png", "--type", "webp"},
	} {
		ts := newTestState(t)

		err := ts.run(append([]string{"render", "<p/>", "--install=false"}, args...)...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "webp capture is not supported")
		assert.Empty(t, ts.driver.Browsers)

		files, err := afero.Glob(ts.fs, "/out/*")
		require.NoError(t, err)
		assert.Empty(t, files)
	}
}

func TestImageTypeFor(t *testing.T) {
	assert.Equal(t, engine.JPEG, imageTypeFor("a.jpg"))
	assert.Equal(t, engine.JPEG, imageTypeFor("a.jpeg"))
	assert.Equal(t, engine.WebP, imageTypeFor("a.webp"))
	assert.Equal(t, engine.PNG, imageTypeFor("a.png"))
	assert.Equal(t, engine.PNG, imageTypeFor("a"))
}

func TestConfigSetAndShow(t *testing.T) {
	ts := newTestState(t)

	require.NoError(t, ts.run("config", "set", "maxPages=4", "headless=false", `args=["--no-sandbox"]`))
	assert.Contains(t, ts.out.String(), "saved")

	ts.out.Reset()
	require.NoError(t, ts.run("config", "show"))

	var shown map[string]interface{}
	require.NoError(t, json.Unmarshal(ts.out.Bytes(), &shown))
	assert.Equal(t, float64(4), shown["maxPages"])
	assert.Equal(t, false, shown["headless"])
	assert.Equal(t, []interface{}{"--no-sandbox"}, shown["args"])
	assert.Equal(t, "chromium", shown["downloadBrowser"])
}

func TestConfigSetRejectsBadInput(t *testing.T) {
	ts := newTestState(t)

	assert.Error(t, ts.run("config", "set", "maxPages"))
	assert.Error(t, ts.run("config", "set", "maxPages=0"))
	assert.Error(t, ts.run("config", "set", "colour=blue"))
	assert.Error(t, ts.run("config", "set", "downloadBrowser=opera"))
}

func TestConfigPath(t *testing.T) {
	ts := newTestState(t)
	require.NoError(t, ts.run("config", "path"))
	assert.Equal(t, testConfigPath+"\n", ts.out.String())
}

func TestParseAssignments(t *testing.T) {
	opts, err := parseAssignments([]string{"downloadBrowser=firefox", "idleTime=250", "hmr=true", "proxy=http://proxy:3128"})
	require.NoError(t, err)
	assert.Equal(t, "firefox", opts.DownloadBrowser.String)
	assert.Equal(t, int64(250), opts.IdleTime.Int64)
	assert.True(t, opts.HMR.Bool)
	assert.Equal(t, "http://proxy:3128", opts.Proxy.String)
	assert.False(t, opts.MaxPages.Valid)

	merged := config.Defaults().Apply(opts)
	assert.Equal(t, config.DefaultMaxPages, merged.PageLimit())
}

func TestInstallCommand(t *testing.T) {
	ts := newTestState(t)

	require.NoError(t, ts.run("install", "firefox", "--silent"))
	require.Len(t, ts.installs, 1)
	assert.Equal(t, []string{"firefox"}, ts.installs[0].Browsers)

	require.NoError(t, ts.run("install"))
	require.Len(t, ts.installs, 2)
	assert.Equal(t, []string{"chromium"}, ts.installs[1].Browsers)
}

func TestInstallCommandFailureHint(t *testing.T) {
	ts := newTestState(t)
	ts.failWith = errors.New("download interrupted")

	err := ts.run("install", "webkit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download interrupted")
	assert.Contains(t, err.Error(), "go run github.com/playwright-community/playwright-go/cmd/playwright install --with-deps webkit")
}

func TestVersionCommand(t *testing.T) {
	ts := newTestState(t)

	require.NoError(t, ts.run("version"))
	assert.Contains(t, ts.out.String(), "shutter v"+version)

	ts.out.Reset()
	require.NoError(t, ts.run("version", "--json"))
	var details map[string]string
	require.NoError(t, json.Unmarshal(ts.out.Bytes(), &details))
	assert.Equal(t, version, details["version"])
}
