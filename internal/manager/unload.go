package manager

import (
	"fmt"
	goruntime "runtime"

	"captiond/internal/runtime"
)

// Unload drops the resident model and releases cached accelerator memory.
// It is a no-op when nothing is loaded. The accelerator context itself
// stays up; use Teardown to release it.
func (m *Manager) Unload() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.unloadLocked("request")
}

// Teardown unloads the model and then resets the accelerator context,
// returning its fixed reservation to the device.
func (m *Manager) Teardown() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.unloadLocked("teardown")
	if !m.acc.Available() {
		return nil
	}
	if err := m.acc.Reset(); err != nil {
		m.log.Error().Err(err).Msg("accelerator reset failed")
		return fmt.Errorf("accelerator reset: %w", err)
	}
	m.publish(EventTeardownDone, nil)
	m.log.Info().Msg("accelerator context released")
	return nil
}

// unloadLocked must be called with opMu held.
func (m *Manager) unloadLocked(reason string) {
	st := m.clear()
	if st == nil {
		return
	}
	if err := st.Model.To(runtime.DeviceCPU, runtime.Auto); err != nil {
		m.log.Debug().Err(err).Msg("offload before unload failed")
	}
	st.Model, st.Processor = nil, nil
	m.releaseCaches()
	unloadsTotal.WithLabelValues(reason).Inc()
	m.publish(EventUnloadDone, map[string]any{"config": st.Config.String(), "reason": reason})
	m.log.Info().Str("config", st.Config.String()).Str("reason", reason).Msg("model unloaded")
}

// releaseCaches collects garbage and hands cached device blocks back.
func (m *Manager) releaseCaches() {
	goruntime.GC()
	if !m.acc.Available() {
		return
	}
	if err := m.acc.EmptyCache(); err != nil {
		m.log.Debug().Err(err).Msg("empty cache failed")
	}
	if err := m.acc.IPCCollect(); err != nil {
		m.log.Debug().Err(err).Msg("ipc collect failed")
	}
}
