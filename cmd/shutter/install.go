package main

import (
	"github.com/spf13/cobra"

	"github.com/entrhq/shutter/pkg/engine"
	"github.com/entrhq/shutter/pkg/install"
)

func newInstallCmd(gs *globalState) *cobra.Command {
	var silent bool
	cmd := &cobra.Command{
		Use:       "install [chromium|firefox|webkit]",
		Short:     "Download a browser engine",
		Long:      "Download a browser engine. Without an argument the configured browser is installed.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(engine.Chromium), string(engine.Firefox), string(engine.WebKit)},
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind engine.Kind
			if len(args) == 1 {
				kind = engine.Kind(args[0])
			} else {
				store, err := gs.store(nil)
				if err != nil {
					return err
				}
				opts, err := gs.launchOptions(store)
				if err != nil {
					return err
				}
				kind = opts.Kind()
			}

			if err := gs.installer.Install(kind, silent); err != nil {
				return &installError{err: err, hint: install.ManualCommand(kind)}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&silent, "silent", "s", false, "hide download progress")
	return cmd
}

type installError struct {
	err  error
	hint string
}

func (e *installError) Error() string {
	return e.err.Error() + "\nplease run manually: " + e.hint
}

func (e *installError) Unwrap() error {
	return e.err
}
