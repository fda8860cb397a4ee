// Package install downloads browser binaries through the Playwright driver.
package install

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/shutter/pkg/engine"
	"github.com/entrhq/shutter/pkg/logging"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	hintColor = color.New(color.FgCyan, color.Faint)
)

// InstallFunc performs the download. playwright.Install in production.
type InstallFunc func(opts ...*playwright.RunOptions) error

// Installer installs browser engines.
type Installer struct {
	install InstallFunc
	out     io.Writer
	logger  *logging.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithInstallFunc replaces the download function.
func WithInstallFunc(fn InstallFunc) Option {
	return func(i *Installer) { i.install = fn }
}

// WithOutput sets where progress and operator messages go. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(i *Installer) { i.out = w }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(i *Installer) { i.logger = l }
}

// New returns an installer backed by playwright.Install.
func New(opts ...Option) *Installer {
	i := &Installer{install: playwright.Install, out: os.Stdout}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = logging.NewNullLogger()
	}
	return i
}

// Install downloads the driver and the given engine. Silent discards the
// download output.
func (i *Installer) Install(kind engine.Kind, silent bool) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown browser %q (must be chromium, firefox or webkit)", kind)
	}

	out := i.out
	if silent {
		out = io.Discard
	}
	opts := &playwright.RunOptions{
		Browsers: []string{string(kind)},
		Verbose:  !silent,
		Stdout:   out,
		Stderr:   out,
	}

	i.logger.Infof("installing %s", kind)
	if err := i.install(opts); err != nil {
		return fmt.Errorf("failed to install %s: %w", kind, err)
	}
	i.logger.Infof("%s installed", kind)
	if !silent {
		okColor.Fprintf(i.out, "%s installed\n", kind)
	}
	return nil
}

// EnsureInstalled installs kind when auto is set. Failures are reported with
// the manual command and never returned; the caller carries on and the
// launch itself will surface a missing binary.
func (i *Installer) EnsureInstalled(kind engine.Kind, auto, silent bool) bool {
	if !auto {
		return false
	}
	if err := i.Install(kind, silent); err != nil {
		i.logger.Errorf("browser install failed: %v", err)
		failColor.Fprintf(i.out, "browser install failed: %v\n", err)
		hintColor.Fprintf(i.out, "please run manually: %s\n", ManualCommand(kind))
		return false
	}
	return true
}

// ManualCommand is the shell command an operator can run instead.
func ManualCommand(kind engine.Kind) string {
	return "go run github.com/playwright-community/playwright-go/cmd/playwright install --with-deps " + string(kind)
}
