package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"captiond/internal/accel"
)

func newGPUCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gpu",
		Short: "List detected accelerator devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			acc, err := accel.Detect(cmd.Context(), cfg.Accelerator, int64(cfg.GPUMemoryMB)<<20, log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !acc.Available() {
				fmt.Fprintln(out, "no accelerator available; serving on host")
				return nil
			}
			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"Index", "Name", "Capability", "Total", "Free", "Used", "BF16"})
			table.SetAutoFormatHeaders(false)
			for _, d := range acc.Devices() {
				table.Append([]string{
					strconv.Itoa(d.Index),
					d.Name,
					d.ComputeCapability,
					mib(d.TotalBytes),
					mib(d.FreeBytes),
					mib(d.UsedBytes),
					strconv.FormatBool(acc.SupportsBF16()),
				})
			}
			table.Render()
			return nil
		},
	}
}

func mib(b uint64) string { return fmt.Sprintf("%d MiB", b>>20) }
