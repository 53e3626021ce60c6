package main

import (
	"context"

	"github.com/rs/zerolog"

	"captiond/internal/accel"
	"captiond/internal/config"
	"captiond/internal/llava"
	"captiond/internal/manager"
)

// newManager detects the accelerator and wires the reference provider.
func newManager(ctx context.Context, cfg config.Config, log zerolog.Logger) (*manager.Manager, error) {
	acc, err := accel.Detect(ctx, cfg.Accelerator, int64(cfg.GPUMemoryMB)<<20, log)
	if err != nil {
		return nil, err
	}
	return manager.NewWithConfig(manager.ManagerConfig{
		Provider:    llava.NewProvider(acc, log),
		Accelerator: acc,
		ModelSource: cfg.ModelID,
		CacheDir:    cfg.CacheDir,
		Publisher:   manager.NewMemoryPublisher(0),
		Logger:      &log,
	}), nil
}
