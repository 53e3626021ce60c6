package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"captiond/internal/common/fsutil"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr"`
	ModelID     string `json:"model_id" yaml:"model_id" toml:"model_id"`
	CacheDir    string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	Accelerator string `json:"accelerator" yaml:"accelerator" toml:"accelerator"`
	// GPUMemoryMB overrides the detected device memory (0 = detect).
	GPUMemoryMB int `json:"gpu_memory_mb" yaml:"gpu_memory_mb" toml:"gpu_memory_mb"`

	DefaultDevice      string   `json:"default_device" yaml:"default_device" toml:"default_device"`
	DefaultQuant       string   `json:"default_quant" yaml:"default_quant" toml:"default_quant"`
	DefaultImageSide   int      `json:"default_image_side" yaml:"default_image_side" toml:"default_image_side"`
	DefaultMaxTokens   int      `json:"default_max_tokens" yaml:"default_max_tokens" toml:"default_max_tokens"`
	DefaultTemperature *float64 `json:"default_temperature" yaml:"default_temperature" toml:"default_temperature"`
	DefaultTopP        *float64 `json:"default_top_p" yaml:"default_top_p" toml:"default_top_p"`

	// Preload is "device:quant" loaded at startup, or empty.
	Preload string `json:"preload" yaml:"preload" toml:"preload"`

	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat    string `json:"log_format" yaml:"log_format" toml:"log_format"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`
}

// Built-in defaults.
const (
	DefaultAddr        = "127.0.0.1:5057"
	DefaultModelID     = "fancyfeast/llama-joycaption-beta-one-hf-llava"
	DefaultCacheDir    = "~/.cache/captiond/models"
	DefaultAccelerator = "auto"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Discover returns the first existing file among the default config
// locations, or "".
func Discover() string {
	for _, p := range []string{
		"~/.config/captiond/config.yaml",
		"~/.config/captiond/config.toml",
		"~/.config/captiond/config.json",
	} {
		abs, err := fsutil.ExpandHome(p)
		if err == nil && fsutil.PathExists(abs) {
			return abs
		}
	}
	return ""
}

// ApplyEnv overrides fields from CAPTIOND_* environment variables.
func (c Config) ApplyEnv() Config {
	return c.applyEnv(os.LookupEnv)
}

func (c Config) applyEnv(lookup func(string) (string, bool)) Config {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("CAPTIOND_ADDR", &c.Addr)
	str("CAPTIOND_MODEL_ID", &c.ModelID)
	str("CAPTIOND_CACHE", &c.CacheDir)
	str("CAPTIOND_ACCELERATOR", &c.Accelerator)
	str("CAPTIOND_LOG_LEVEL", &c.LogLevel)
	str("CAPTIOND_PRELOAD", &c.Preload)
	if v, ok := lookup("CAPTIOND_GPU_MEMORY_MB"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			c.GPUMemoryMB = n
		}
	}
	return c
}

// WithDefaults fills unspecified fields.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelID == "" {
		c.ModelID = DefaultModelID
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.Accelerator == "" {
		c.Accelerator = DefaultAccelerator
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	return c
}

// Validate rejects values no component accepts.
func (c Config) Validate() error {
	switch c.Accelerator {
	case "auto", "cpu", "nvidia":
	default:
		return fmt.Errorf("accelerator must be auto, cpu or nvidia, got %q", c.Accelerator)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log_format must be json or console, got %q", c.LogFormat)
	}
	if c.Preload != "" {
		if _, _, err := SplitPreload(c.Preload); err != nil {
			return err
		}
	}
	if c.GPUMemoryMB < 0 || c.MaxBodyBytes < 0 {
		return fmt.Errorf("gpu_memory_mb and max_body_bytes must not be negative")
	}
	return nil
}

// SplitPreload parses "device:quant". quant is empty when s names only a
// device.
func SplitPreload(s string) (device, quant string, err error) {
	device, quant, _ = strings.Cut(strings.TrimSpace(s), ":")
	device, quant = strings.TrimSpace(device), strings.TrimSpace(quant)
	if device == "" {
		return "", "", fmt.Errorf("preload %q: want device:quant", s)
	}
	return device, quant, nil
}

// SplitCSV splits a comma-separated flag value, dropping empty items.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
