package manager

import (
	"github.com/rs/zerolog"

	"captiond/internal/accel"
	"captiond/internal/runtime"
)

// DefaultModelID is the captioning model served when none is configured.
const DefaultModelID = "fancyfeast/llama-joycaption-beta-one-hf-llava"

// ManagerConfig encapsulates all dependencies for Manager construction.
type ManagerConfig struct {
	Provider    runtime.Provider
	Accelerator runtime.Accelerator
	// ModelSource is the artifact name handed to the provider.
	ModelSource string
	CacheDir    string
	Publisher   EventPublisher
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

// NewWithConfig constructs a Manager, applying defaults for unset fields.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		provider: cfg.Provider,
		acc:      cfg.Accelerator,
		source:   cfg.ModelSource,
		cacheDir: cfg.CacheDir,
		pub:      cfg.Publisher,
		log:      zerolog.Nop(),
	}
	if m.acc == nil {
		m.acc = accel.Host{}
	}
	if m.source == "" {
		m.source = DefaultModelID
	}
	if m.pub == nil {
		m.pub = noopPublisher{}
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	}
	return m
}
