package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"captiond/internal/config"
	"captiond/internal/httpapi"
	"captiond/internal/registry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		preload string
		cors    bool
		origins string
		methods string
		headers string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the captioning HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("preload") {
				cfg.Preload = preload
			}
			if flags.Changed("cors") {
				cfg.CORSEnabled = cors
			}
			if flags.Changed("cors-origins") {
				cfg.CORSAllowedOrigins = config.SplitCSV(origins)
			}
			if flags.Changed("cors-methods") {
				cfg.CORSAllowedMethods = config.SplitCSV(methods)
			}
			if flags.Changed("cors-headers") {
				cfg.CORSAllowedHeaders = config.SplitCSV(headers)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cmd, cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", config.DefaultAddr, "HTTP listen address")
	f.StringVar(&preload, "preload", "", "Configuration to load at startup, e.g. gpu:int8")
	f.BoolVar(&cors, "cors", false, "Enable CORS")
	f.StringVar(&origins, "cors-origins", "", "Comma-separated allowed origins")
	f.StringVar(&methods, "cors-methods", "GET,POST,OPTIONS", "Comma-separated allowed methods")
	f.StringVar(&headers, "cors-headers", "Content-Type,X-Log-Level", "Comma-separated allowed headers")
	return cmd
}

func serve(parent context.Context, cmd *cobra.Command, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := newManager(ctx, cfg, log)
	if err != nil {
		return err
	}
	if arts, err := registry.LoadDir(cfg.CacheDir); err != nil {
		log.Warn().Err(err).Str("cache_dir", cfg.CacheDir).Msg("cannot scan model cache")
	} else if a, ok := registry.Find(arts, cfg.ModelID); !ok {
		log.Warn().Str("model_id", cfg.ModelID).Int("artifacts", len(arts)).Msg("model artifact not found in cache; loads will fail")
	} else if !a.Complete {
		log.Warn().Str("model_id", cfg.ModelID).Str("path", a.Path).Msg("model artifact is incomplete")
	}

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins, cfg.CORSAllowedMethods, cfg.CORSAllowedHeaders)
	d := httpapi.Defaults{
		Device:      cfg.DefaultDevice,
		Quant:       cfg.DefaultQuant,
		ImageSide:   cfg.DefaultImageSide,
		MaxTokens:   cfg.DefaultMaxTokens,
		Temperature: httpapi.DefaultDefaults.Temperature,
		TopP:        httpapi.DefaultDefaults.TopP,
	}
	if cfg.DefaultTemperature != nil {
		d.Temperature = *cfg.DefaultTemperature
	}
	if cfg.DefaultTopP != nil {
		d.TopP = *cfg.DefaultTopP
	}
	httpapi.SetDefaults(d)

	if cfg.Preload != "" {
		device, quant, _ := config.SplitPreload(cfg.Preload)
		if quant == "" {
			quant = d.Quant
			if quant == "" {
				quant = httpapi.DefaultDefaults.Quant
			}
		}
		if err := mgr.EnsureLoaded(ctx, device, quant); err != nil {
			// Serve anyway; /load can retry.
			log.Error().Err(err).Str("preload", cfg.Preload).Msg("preload failed")
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("model_id", cfg.ModelID).Str("cache_dir", cfg.CacheDir).Msg("captiond listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := mgr.Teardown(); err != nil {
		log.Warn().Err(err).Msg("teardown on shutdown failed")
	}
	log.Info().Msg("captiond stopped")
	return nil
}
