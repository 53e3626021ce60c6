package manager

import (
	"image"
	"strings"
	"time"

	"captiond/internal/runtime"
)

// Quant names a quantization scheme.
type Quant string

const (
	QuantInt8 Quant = "int8"
	QuantNF4  Quant = "nf4"
	QuantBF16 Quant = "bf16"
)

// ModelConfig is the cache key of a loaded model. Two configs are equal
// iff both fields match.
type ModelConfig struct {
	Device runtime.Device
	Quant  Quant
}

func (c ModelConfig) String() string { return string(c.Device) + "/" + string(c.Quant) }

// ParseConfig validates a device and quantization pair. Quantization is
// only checked on the accelerator; the host path ignores it.
func ParseConfig(device, quant string) (ModelConfig, error) {
	d := runtime.Device(strings.ToLower(strings.TrimSpace(device)))
	q := Quant(strings.ToLower(strings.TrimSpace(quant)))
	switch d {
	case runtime.DeviceCPU:
		return ModelConfig{Device: d, Quant: q}, nil
	case runtime.DeviceGPU:
		switch q {
		case QuantInt8, QuantNF4, QuantBF16:
			return ModelConfig{Device: d, Quant: q}, nil
		}
		return ModelConfig{}, newError(KindUnknownQuant, "Unknown quant: "+quant, nil)
	}
	return ModelConfig{}, newError(KindUnknownDevice, "Unknown device: "+device, nil)
}

// LoadedState is the resident processor and model. It is only ever
// installed fully built.
type LoadedState struct {
	Processor    runtime.Processor
	Model        runtime.Model
	Config       ModelConfig
	ComputeDType runtime.DType
	LoadedAt     time.Time
	OpID         string
}

// GenerationRequest is one captioning call.
type GenerationRequest struct {
	Image        image.Image
	MaxNewTokens int
	// Instructions replaces DefaultInstructions when non-empty.
	Instructions string
	Temperature  float64
	TopP         float64
	// Seed for sampling; zero picks a fresh one.
	Seed uint64
}

// GenerationResult is the decoded caption.
type GenerationResult struct {
	Text      string
	NewTokens int
	Sampled   bool
	Duration  time.Duration
}

// Snapshot is a read-only view of the manager.
type Snapshot struct {
	Loaded       bool
	Config       *ModelConfig
	ComputeDType string
	LoadedAt     time.Time
	Loads        uint64
	CacheHits    uint64
	LastError    string
}
