package manager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"captiond/internal/runtime"
)

// visionSkipModules keeps the vision path out of the quantization backend.
var visionSkipModules = []string{"vision_tower", "multi_modal_projector"}

// loadPlan is what the provider is asked for, plus the compute dtype used
// for floating inputs at inference time.
type loadPlan struct {
	opts    runtime.LoadOptions
	compute runtime.DType
}

// planFor maps a config to provider options:
//
//	gpu/int8  float16   8-bit weights, vision skipped, no fp32 offload
//	gpu/nf4   float16   nf4 weights, bf16 compute, double quant, vision skipped
//	gpu/bf16  bfloat16  no quantization
//	cpu/*     float32   no quantization, host only
func planFor(cfg ModelConfig, cacheDir string) (loadPlan, error) {
	p := loadPlan{opts: runtime.LoadOptions{CacheDir: cacheDir}}
	switch cfg.Device {
	case runtime.DeviceGPU:
		p.opts.DeviceMap = runtime.DeviceMapAuto
		switch cfg.Quant {
		case QuantInt8:
			p.compute = runtime.Float16
			p.opts.DType = runtime.Float16
			p.opts.Quantization = &runtime.QuantConfig{
				LoadIn8bit:     true,
				FP32CPUOffload: false,
				SkipModules:    append([]string(nil), visionSkipModules...),
			}
		case QuantNF4:
			p.compute = runtime.Float16
			p.opts.DType = runtime.Auto
			p.opts.Quantization = &runtime.QuantConfig{
				LoadIn4bit:   true,
				QuantType:    "nf4",
				ComputeDType: runtime.BFloat16,
				DoubleQuant:  true,
				SkipModules:  append([]string(nil), visionSkipModules...),
			}
		case QuantBF16:
			p.compute = runtime.BFloat16
			p.opts.DType = runtime.BFloat16
		default:
			return p, newError(KindUnknownQuant, "Unknown quant: "+string(cfg.Quant), nil)
		}
	case runtime.DeviceCPU:
		p.compute = runtime.Float32
		p.opts.DType = runtime.Float32
		p.opts.DeviceMap = runtime.DeviceMapCPU
	default:
		return p, newError(KindUnknownDevice, "Unknown device: "+string(cfg.Device), nil)
	}
	return p, nil
}

// load instantiates processor and model for cfg. Provider errors and
// panics become KindLoadFailed; nothing is installed here.
func (m *Manager) load(ctx context.Context, cfg ModelConfig, opID string) (st *LoadedState, err error) {
	plan, err := planFor(cfg, m.cacheDir)
	if err != nil {
		return nil, err
	}
	if m.provider == nil {
		return nil, newError(KindLoadFailed, "no model provider configured", nil)
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("op_id", opID).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("model load panicked")
			st, err = nil, newError(KindLoadFailed, fmt.Sprintf("load panicked: %v", r), nil)
		}
	}()

	proc, err := m.provider.LoadProcessor(ctx, m.source, m.cacheDir)
	if err != nil {
		return nil, newError(KindLoadFailed, err.Error(), err)
	}
	mdl, err := m.provider.LoadModel(ctx, m.source, plan.opts)
	if err != nil {
		return nil, newError(KindLoadFailed, err.Error(), err)
	}
	if mdl == nil || proc == nil {
		return nil, newError(KindLoadFailed, "provider returned no model", nil)
	}
	return &LoadedState{
		Processor:    proc,
		Model:        mdl,
		Config:       cfg,
		ComputeDType: plan.compute,
		LoadedAt:     time.Now(),
		OpID:         opID,
	}, nil
}

// IsAcceleratorLoadError reports whether a load failed in the device
// runtime rather than in the artifact.
func IsAcceleratorLoadError(err error) bool {
	return KindOf(err) == KindLoadFailed &&
		(errors.Is(err, runtime.ErrOutOfMemory) || errors.Is(err, runtime.ErrNoAccelerator))
}
