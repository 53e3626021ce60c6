package manager

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"captiond/internal/runtime"
	"captiond/pkg/types"
)

// EnsureLoaded makes (device, quant) the resident configuration. A matching
// resident model is reused as is; any other resident model is unloaded
// first. On failure the manager is left with no model.
func (m *Manager) EnsureLoaded(ctx context.Context, device, quant string) error {
	cfg, err := ParseConfig(device, quant)
	if err != nil {
		m.recordError(err)
		return err
	}
	return m.Ensure(ctx, cfg)
}

// Ensure is EnsureLoaded for an already parsed config.
func (m *Manager) Ensure(ctx context.Context, cfg ModelConfig) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.ensureLocked(ctx, cfg)
}

// Load is EnsureLoaded that also reports the resident state as of the end
// of the load, before any other operation can change it.
func (m *Manager) Load(ctx context.Context, device, quant string) (types.HealthResponse, error) {
	cfg, err := ParseConfig(device, quant)
	if err != nil {
		m.recordError(err)
		return m.Status(), err
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	err = m.ensureLocked(ctx, cfg)
	return m.Status(), err
}

// ensureLocked must be called with opMu held.
func (m *Manager) ensureLocked(ctx context.Context, cfg ModelConfig) error {
	if cur := m.current(); cur != nil {
		if cur.Config == cfg {
			m.stMu.Lock()
			m.cacheHits++
			m.stMu.Unlock()
			cacheHitsTotal.Inc()
			m.publish(EventCacheHit, map[string]any{"config": cfg.String()})
			return nil
		}
		m.unloadLocked("config_change")
	}

	opID := uuid.NewString()
	log := m.log.With().Str("op_id", opID).Str("config", cfg.String()).Logger()
	m.publish(EventLoadStart, map[string]any{"op_id": opID, "config": cfg.String()})
	log.Info().Str("model", m.source).Msg("loading model")

	st, err := m.load(ctx, cfg, opID)
	if err != nil {
		return m.failLoad(cfg, opID, err)
	}

	rep := m.place(st.Model, cfg)
	for _, n := range rep.Notes {
		placementNotesTotal.Inc()
		log.Warn().Str("note", n).Msg("vision tower placement note")
		m.publish(EventPlacementNote, map[string]any{"op_id": opID, "note": n})
	}

	if cfg.Device == runtime.DeviceGPU && cfg.Quant == QuantNF4 {
		if leaks := quantizedVisionModules(st.Model); len(leaks) > 0 {
			m.discard(st)
			m.publish(EventStrictViolation, map[string]any{"op_id": opID, "modules": leaks})
			err := newError(KindStrictViolation,
				"nf4_strict_violation: quantization leaked into vision/projector ("+strings.Join(leaks, ", ")+")", nil)
			return m.failLoad(cfg, opID, err)
		}
	}

	m.install(st)
	loadsTotal.WithLabelValues(cfg.String(), "ok").Inc()
	m.publish(EventLoadReady, map[string]any{
		"op_id":         opID,
		"config":        cfg.String(),
		"compute_dtype": st.ComputeDType.String(),
		"vision_dtype":  rep.DType.String(),
	})
	log.Info().Str("vision_dtype", rep.DType.String()).Str("compute_dtype", st.ComputeDType.String()).Msg("model loaded")
	return nil
}

func (m *Manager) failLoad(cfg ModelConfig, opID string, err error) error {
	outcome := string(KindOf(err))
	if outcome == "" {
		outcome = string(KindLoadFailed)
	}
	loadsTotal.WithLabelValues(cfg.String(), outcome).Inc()
	m.recordError(err)
	// A provider that failed part way may have placed and given back
	// device blocks; they sit in the allocator cache until emptied.
	m.releaseCaches()
	m.publish(EventLoadFailed, map[string]any{"op_id": opID, "config": cfg.String(), "kind": outcome, "error": err.Error()})
	m.log.Error().Err(err).Str("op_id", opID).Str("config", cfg.String()).Msg("model load failed")
	return err
}

// discard moves a model that was built but never installed off the
// device. failLoad then releases the cached blocks.
func (m *Manager) discard(st *LoadedState) {
	if err := st.Model.To(runtime.DeviceCPU, runtime.Auto); err != nil {
		m.log.Debug().Err(err).Msg("offload of discarded model failed")
	}
}
