package main

import (
	"errors"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/entrhq/shutter/pkg/config"
	"github.com/entrhq/shutter/pkg/engine"
	"github.com/entrhq/shutter/pkg/install"
	"github.com/entrhq/shutter/pkg/logging"
)

var (
	errColor   = color.New(color.FgRed)
	okColor    = color.New(color.FgGreen)
	valueColor = color.New(color.FgCyan)
)

// globalState is shared by every command. Tests replace the writers, the
// filesystem and the engine.
type globalState struct {
	stdout io.Writer
	stderr io.Writer
	fs     afero.Fs

	configPath string
	envFile    string
	logLevel   string
	logDir     string

	logger    *logging.Logger
	newDriver func() (engine.Driver, error)
	installer *install.Installer
}

func newGlobalState() *globalState {
	return &globalState{
		stdout: os.Stdout,
		stderr: os.Stderr,
		fs:     afero.NewOsFs(),
		newDriver: func() (engine.Driver, error) {
			return engine.NewPlaywright()
		},
	}
}

func newRootCmd(gs *globalState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "shutter",
		Short:         "Render pages and HTML to screenshots with a headless browser",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return gs.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if gs.logger != nil {
				_ = gs.logger.Close()
			}
		},
	}
	cmd.SetOut(gs.stdout)
	cmd.SetErr(gs.stderr)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&gs.configPath, "config", "c", "", "config file (default <user config dir>/shutter/config.json)")
	flags.StringVar(&gs.envFile, "env-file", ".env", "dotenv file with SHUTTER_* overrides, ignored when missing")
	flags.StringVar(&gs.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&gs.logDir, "log-dir", "", "write logs to a file in this directory instead of stderr")

	cmd.AddCommand(
		newServeCmd(gs),
		newRenderCmd(gs),
		newInstallCmd(gs),
		newConfigCmd(gs),
		newVersionCmd(gs),
	)
	return cmd
}

func (gs *globalState) setup() error {
	if gs.envFile != "" {
		if err := godotenv.Load(gs.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if gs.logger == nil {
		if gs.logDir != "" {
			// On error the returned logger already falls back to stderr
			gs.logger, _ = logging.NewFileLogger(gs.logDir, "shutter")
		} else {
			base := logrus.New()
			base.SetOutput(gs.stderr)
			gs.logger = logging.New(base, "shutter")
		}
	}
	if err := gs.logger.SetLevel(gs.logLevel); err != nil {
		return err
	}

	if gs.installer == nil {
		gs.installer = install.New(install.WithOutput(gs.stdout), install.WithLogger(gs.logger.With("install")))
	}
	return nil
}

// store opens the configuration file. The publisher may be nil.
func (gs *globalState) store(publisher config.Publisher) (*config.FileStore, error) {
	opts := []config.StoreOption{
		config.WithFs(gs.fs),
		config.WithLogger(gs.logger.With("config")),
	}
	if publisher != nil {
		opts = append(opts, config.WithPublisher(publisher))
	}
	return config.NewFileStore(gs.configPath, opts...)
}

// launchOptions is the stored configuration with SHUTTER_* overrides applied.
func (gs *globalState) launchOptions(store config.Store) (config.LaunchOptions, error) {
	env, err := config.FromEnv()
	if err != nil {
		return config.LaunchOptions{}, err
	}
	opts := store.Get().Apply(env)
	return opts, opts.Validate()
}
