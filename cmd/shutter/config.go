package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/entrhq/shutter/pkg/config"
)

func newConfigCmd(gs *globalState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the launch configuration",
	}
	cmd.AddCommand(newConfigShowCmd(gs), newConfigSetCmd(gs), newConfigPathCmd(gs))
	return cmd
}

func newConfigShowCmd(gs *globalState) *cobra.Command {
	var effective bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := gs.store(nil)
			if err != nil {
				return err
			}
			opts := store.Get()
			if effective {
				if opts, err = gs.launchOptions(store); err != nil {
					return err
				}
			}
			data, err := json.MarshalIndent(opts, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(gs.stdout, string(data))
			return err
		},
	}
	cmd.Flags().BoolVar(&effective, "effective", false, "include SHUTTER_* environment overrides")
	return cmd
}

func newConfigSetCmd(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "set key=value...",
		Short: "Change configuration values",
		Long: `Change configuration values. Values are read as JSON when they parse,
otherwise as strings. A running "shutter serve" picks the change up from the file.`,
		Example: `  shutter config set maxPages=4 headless=false
  shutter config set downloadBrowser=firefox hmr=true
  shutter config set 'args=["--no-sandbox"]'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partial, err := parseAssignments(args)
			if err != nil {
				return err
			}
			store, err := gs.store(nil)
			if err != nil {
				return err
			}
			merged, err := store.Update(cmd.Context(), partial)
			if err != nil {
				return err
			}
			fmt.Fprintf(gs.stdout, "%s %s (%s, maxPages %d)\n", okColor.Sprint("saved"), store.Path(),
				merged.Kind(), merged.PageLimit())
			return nil
		},
	}
}

func newConfigPathCmd(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := gs.configPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			_, err := fmt.Fprintln(gs.stdout, path)
			return err
		},
	}
}

// parseAssignments turns key=value pairs into a partial configuration.
// Unknown keys are rejected.
func parseAssignments(args []string) (config.LaunchOptions, error) {
	doc := make(map[string]json.RawMessage, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return config.LaunchOptions{}, fmt.Errorf("expected key=value, got %q", arg)
		}
		if json.Valid([]byte(value)) {
			doc[key] = json.RawMessage(value)
			continue
		}
		quoted, err := json.Marshal(value)
		if err != nil {
			return config.LaunchOptions{}, err
		}
		doc[key] = quoted
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return config.LaunchOptions{}, err
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	var partial config.LaunchOptions
	if err := dec.Decode(&partial); err != nil {
		return config.LaunchOptions{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return partial, partial.Validate()
}
