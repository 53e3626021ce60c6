package accel

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"captiond/internal/runtime"
)

// Detect selects the accelerator for mode "cpu", "nvidia" or "auto".
// In auto mode a failed probe falls back to Host.
func Detect(ctx context.Context, mode string, limitBytes int64, log zerolog.Logger) (runtime.Accelerator, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "cpu", "none":
		return Host{}, nil
	case "nvidia", "cuda":
		p, err := NewNVIDIA(ctx, limitBytes)
		if err != nil {
			return nil, fmt.Errorf("nvidia accelerator: %w", err)
		}
		return p, nil
	case "", "auto":
		p, err := NewNVIDIA(ctx, limitBytes)
		if err != nil {
			log.Warn().Err(err).Msg("no accelerator detected, serving on host")
			return Host{}, nil
		}
		devs := p.Devices()
		if len(devs) > 0 {
			log.Info().Str("device", devs[0].Name).Bool("bf16", p.SupportsBF16()).Uint64("free_bytes", devs[0].FreeBytes).Msg("accelerator detected")
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown accelerator mode %q", mode)
}
