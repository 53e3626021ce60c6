package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"captiond/internal/config"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	configPath  string
	modelID     string
	cacheDir    string
	accelerator string
	gpuMemoryMB int
	logLevel    string
	logFormat   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "captiond",
		Short:         "Image captioning sidecar",
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (.yaml, .json or .toml); defaults to ~/.config/captiond/config.*")
	pf.StringVar(&opts.modelID, "model-id", "", "Model artifact id below the cache dir")
	pf.StringVar(&opts.cacheDir, "cache-dir", "", "Model cache directory")
	pf.StringVar(&opts.accelerator, "accelerator", "", "Accelerator: auto, cpu or nvidia")
	pf.IntVar(&opts.gpuMemoryMB, "gpu-memory-mb", 0, "Override usable device memory in MB (0 = detect)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: json or console")

	root.AddCommand(
		newServeCmd(opts),
		newCaptionCmd(opts),
		newGPUCmd(opts),
		newArtifactCmd(opts),
		newModelsCmd(opts),
	)
	return root
}

// resolveConfig layers the config file, CAPTIOND_* variables, flags set on
// cmd and defaults, in that order of increasing precedence except defaults.
func (o *rootOptions) resolveConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	path := o.configPath
	if path == "" {
		path = config.Discover()
	}
	if path != "" {
		c, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	cfg = cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("model-id") {
		cfg.ModelID = o.modelID
	}
	if flags.Changed("cache-dir") {
		cfg.CacheDir = o.cacheDir
	}
	if flags.Changed("accelerator") {
		cfg.Accelerator = o.accelerator
	}
	if flags.Changed("gpu-memory-mb") {
		cfg.GPUMemoryMB = o.gpuMemoryMB
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = o.logFormat
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newLogger builds the root logger for cfg.
func newLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "captiond").Logger()
}
