package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	null "gopkg.in/guregu/null.v3"

	"github.com/entrhq/shutter/pkg/engine"
)

// HMRSubject is the event subject carrying hot-reload configuration.
const HMRSubject = "shutter.hmr"

// Default values for launch options
const (
	DefaultBrowser  = engine.Chromium
	DefaultHeadless = true
	DefaultDebug    = false
	DefaultMaxPages = 10
	DefaultIdleTime = 500 // milliseconds
	DefaultHMR      = false
)

// DefaultArgs are the browser process arguments used when none are configured.
var DefaultArgs = []string{
	"--disable-gpu",
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-extensions",
	"--disable-background-networking",
	"--disable-sync",
	"--disable-translate",
	"--disable-notifications",
	"--disable-default-apps",
	"--no-first-run",
	"--no-default-browser-check",
}

// LaunchOptions configures the browser session. Every field is nullable so a
// partial document (hot-reload payload, env overrides) can be merged over a
// complete one with Apply.
type LaunchOptions struct {
	// DownloadBrowser selects the engine: chromium, firefox or webkit.
	DownloadBrowser null.String `json:"downloadBrowser" envconfig:"browser"`

	Headless null.Bool `json:"headless" envconfig:"headless"`

	// Debug keeps used pages open instead of recycling them.
	Debug null.Bool `json:"debug" envconfig:"debug"`

	// MaxPages bounds the number of simultaneously checked-out pages.
	MaxPages null.Int `json:"maxPages" envconfig:"max_pages"`

	// IdleTime is the default post-load grace period in milliseconds.
	IdleTime null.Int `json:"idleTime" envconfig:"idle_time"`

	// HMR relaunches the browser when a configuration change arrives.
	HMR null.Bool `json:"hmr" envconfig:"hmr"`

	Args []string `json:"args,omitempty" envconfig:"args"`

	// Engine-native pass-through fields.
	ExecutablePath null.String `json:"executablePath,omitempty" envconfig:"executable_path"`
	Channel        null.String `json:"channel,omitempty" envconfig:"channel"`
	Proxy          null.String `json:"proxy,omitempty" envconfig:"proxy"`
	SlowMo         null.Float  `json:"slowMo,omitempty" envconfig:"slow_mo"`
	Timeout        null.Float  `json:"timeout,omitempty" envconfig:"launch_timeout"`
}

// Defaults returns the complete default configuration.
func Defaults() LaunchOptions {
	return LaunchOptions{
		DownloadBrowser: null.StringFrom(string(DefaultBrowser)),
		Headless:        null.BoolFrom(DefaultHeadless),
		Debug:           null.BoolFrom(DefaultDebug),
		MaxPages:        null.IntFrom(DefaultMaxPages),
		IdleTime:        null.IntFrom(DefaultIdleTime),
		HMR:             null.BoolFrom(DefaultHMR),
		Args:            append([]string(nil), DefaultArgs...),
	}
}

// Apply returns o with every field set in opts copied over it. This is a
// shallow merge: a non-nil Args replaces the whole list.
func (o LaunchOptions) Apply(opts LaunchOptions) LaunchOptions {
	if opts.DownloadBrowser.Valid {
		o.DownloadBrowser = opts.DownloadBrowser
	}
	if opts.Headless.Valid {
		o.Headless = opts.Headless
	}
	if opts.Debug.Valid {
		o.Debug = opts.Debug
	}
	if opts.MaxPages.Valid {
		o.MaxPages = opts.MaxPages
	}
	if opts.IdleTime.Valid {
		o.IdleTime = opts.IdleTime
	}
	if opts.HMR.Valid {
		o.HMR = opts.HMR
	}
	if opts.Args != nil {
		o.Args = append([]string(nil), opts.Args...)
	}
	if opts.ExecutablePath.Valid {
		o.ExecutablePath = opts.ExecutablePath
	}
	if opts.Channel.Valid {
		o.Channel = opts.Channel
	}
	if opts.Proxy.Valid {
		o.Proxy = opts.Proxy
	}
	if opts.SlowMo.Valid {
		o.SlowMo = opts.SlowMo
	}
	if opts.Timeout.Valid {
		o.Timeout = opts.Timeout
	}
	return o
}

// Validate checks the values that are set.
func (o LaunchOptions) Validate() error {
	if o.DownloadBrowser.Valid && !engine.Kind(o.DownloadBrowser.String).Valid() {
		return fmt.Errorf("invalid downloadBrowser %q (must be chromium, firefox or webkit)", o.DownloadBrowser.String)
	}
	if o.MaxPages.Valid && o.MaxPages.Int64 < 1 {
		return fmt.Errorf("maxPages must be at least 1, got %d", o.MaxPages.Int64)
	}
	if o.IdleTime.Valid && o.IdleTime.Int64 < 0 {
		return fmt.Errorf("idleTime must not be negative, got %d", o.IdleTime.Int64)
	}
	return nil
}

// Kind returns the configured engine, falling back to chromium.
func (o LaunchOptions) Kind() engine.Kind {
	k := engine.Kind(o.DownloadBrowser.String)
	if !k.Valid() {
		return DefaultBrowser
	}
	return k
}

// PageLimit returns maxPages, falling back to the default when unset or invalid.
func (o LaunchOptions) PageLimit() int {
	if !o.MaxPages.Valid || o.MaxPages.Int64 < 1 {
		return DefaultMaxPages
	}
	return int(o.MaxPages.Int64)
}

// IdleDuration returns the configured grace period.
func (o LaunchOptions) IdleDuration() time.Duration {
	if !o.IdleTime.Valid {
		return DefaultIdleTime * time.Millisecond
	}
	return time.Duration(o.IdleTime.Int64) * time.Millisecond
}

// IsDebug reports whether debug mode is on.
func (o LaunchOptions) IsDebug() bool {
	return o.Debug.Valid && o.Debug.Bool
}

// ReloadsBrowser reports whether a configuration change relaunches the browser.
func (o LaunchOptions) ReloadsBrowser() bool {
	return o.HMR.Valid && o.HMR.Bool
}

// EngineOptions converts to engine-native launch parameters.
func (o LaunchOptions) EngineOptions() engine.LaunchOptions {
	return engine.LaunchOptions{
		Headless:       !o.Headless.Valid || o.Headless.Bool,
		Args:           append([]string(nil), o.Args...),
		ExecutablePath: o.ExecutablePath.String,
		Channel:        o.Channel.String,
		Proxy:          o.Proxy.String,
		SlowMo:         o.SlowMo.Float64,
		Timeout:        o.Timeout.Float64,
	}
}

// FromEnv reads SHUTTER_* environment overrides. Unset variables stay null.
func FromEnv() (LaunchOptions, error) {
	var opts LaunchOptions
	if err := envconfig.Process("shutter", &opts); err != nil {
		return LaunchOptions{}, fmt.Errorf("failed to read environment config: %w", err)
	}
	return opts, nil
}
