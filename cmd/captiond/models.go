package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"captiond/internal/registry"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List model artifacts in the cache dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig(cmd)
			if err != nil {
				return err
			}
			arts, err := registry.LoadDir(cfg.CacheDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(arts) == 0 {
				fmt.Fprintf(out, "no model artifacts in %s\n", cfg.CacheDir)
				return nil
			}
			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"ID", "Complete", "Configured", "Path"})
			table.SetAutoFormatHeaders(false)
			for _, a := range arts {
				configured := ""
				if a.ID == cfg.ModelID {
					configured = "*"
				}
				table.Append([]string{a.ID, strconv.FormatBool(a.Complete), configured, a.Path})
			}
			table.Render()
			return nil
		},
	}
}
