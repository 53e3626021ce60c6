package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"captiond/internal/common/fsutil"
	"captiond/internal/imageproc"
	"captiond/internal/manager"
)

type captionOptions struct {
	device      string
	quant       string
	side        int
	maxTokens   int
	temperature float64
	topP        float64
	prompt      string
	seed        uint64
	writeTxt    bool
}

func newCaptionCmd(opts *rootOptions) *cobra.Command {
	co := &captionOptions{}
	cmd := &cobra.Command{
		Use:   "caption IMAGE...",
		Short: "Caption images without starting the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			ctx := cmd.Context()
			mgr, err := newManager(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Teardown()

			if err := mgr.EnsureLoaded(ctx, co.device, co.quant); err != nil {
				return err
			}
			side := imageproc.ClampSide(co.side)
			for _, arg := range args {
				src, err := fsutil.ResolveFile(arg)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				img, err := imageproc.DecodeFile(src)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				resized, err := imageproc.ResizeShortestSide(img, side)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				res, err := mgr.Infer(ctx, manager.GenerationRequest{
					Image:        resized,
					MaxNewTokens: min(max(co.maxTokens, 1), 4096),
					Instructions: co.prompt,
					Temperature:  min(max(co.temperature, 0), 2),
					TopP:         min(max(co.topP, 0), 1),
					Seed:         co.seed,
				})
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				if len(args) > 1 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", src, res.Text)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), res.Text)
				}
				if co.writeTxt {
					txt, err := fsutil.WriteSidecarText(src, res.Text)
					if err != nil {
						log.Warn().Err(err).Str("image_path", src).Msg("write failed")
						continue
					}
					log.Info().Str("txt_path", txt).Msg("caption written")
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&co.device, "device", "gpu", "Device: gpu or cpu")
	f.StringVar(&co.quant, "quant", "int8", "Quantization on gpu: int8, nf4 or bf16")
	f.IntVar(&co.side, "side", 448, "Shortest image side after resizing")
	f.IntVar(&co.maxTokens, "max-tokens", 512, "Maximum new tokens")
	f.Float64Var(&co.temperature, "temperature", 0.6, "Sampling temperature (0 = off)")
	f.Float64Var(&co.topP, "top-p", 0.9, "Nucleus sampling probability")
	f.StringVar(&co.prompt, "prompt", "", "Instructions replacing the default prompt")
	f.Uint64Var(&co.seed, "seed", 0, "Sampling seed (0 = random)")
	f.BoolVar(&co.writeTxt, "write-txt", false, "Write each caption next to its image as .txt")
	return cmd
}
