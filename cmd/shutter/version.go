package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(gs *globalState) *cobra.Command {
	var isJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show application version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !isJSON {
				_, err := fmt.Fprintf(gs.stdout, "shutter v%s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
				return err
			}
			data, err := json.Marshal(map[string]string{
				"version":   version,
				"goVersion": runtime.Version(),
				"goOs":      runtime.GOOS,
				"goArch":    runtime.GOARCH,
			})
			if err != nil {
				return fmt.Errorf("failed to produce JSON version details: %w", err)
			}
			_, err = fmt.Fprintln(gs.stdout, string(data))
			return err
		},
	}
	cmd.Flags().BoolVar(&isJSON, "json", false, "output version information as JSON")
	return cmd
}
