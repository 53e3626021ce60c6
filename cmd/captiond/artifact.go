package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"captiond/internal/llava"
)

func newArtifactCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "artifact",
		Short: "Write the built-in tiny reference model below the cache dir",
		Long: "Materialises a small LLaVA-shaped model at <cache-dir>/<model-id> so the\n" +
			"service can be exercised without downloading weights.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig(cmd)
			if err != nil {
				return err
			}
			dir, err := llava.ResolveDir(cfg.ModelID, cfg.CacheDir)
			if err != nil {
				return err
			}
			if err := llava.WriteArtifact(dir, llava.DefaultArtifact()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
}
