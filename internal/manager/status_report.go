package manager

import (
	"captiond/pkg/types"
)

// Snapshot returns a read-only view of the manager state. It never waits
// on a running load or generation.
func (m *Manager) Snapshot() Snapshot {
	m.stMu.RLock()
	defer m.stMu.RUnlock()
	s := Snapshot{Loads: m.loads, CacheHits: m.cacheHits, LastError: m.lastErr}
	if m.state != nil {
		cfg := m.state.Config
		s.Loaded = true
		s.Config = &cfg
		s.ComputeDType = m.state.ComputeDType.String()
		s.LoadedAt = m.state.LoadedAt
	}
	return s
}

// CurrentConfig returns the resident configuration, if any.
func (m *Manager) CurrentConfig() (ModelConfig, bool) {
	m.stMu.RLock()
	defer m.stMu.RUnlock()
	if m.state == nil {
		return ModelConfig{}, false
	}
	return m.state.Config, true
}

// Status builds the response for /health.
func (m *Manager) Status() types.HealthResponse {
	s := m.Snapshot()
	resp := types.HealthResponse{
		Loaded:         s.Loaded,
		ModelID:        m.source,
		LoadsTotal:     s.Loads,
		CacheHitsTotal: s.CacheHits,
		LastError:      s.LastError,
	}
	if s.Config != nil {
		resp.Config = []string{string(s.Config.Device), string(s.Config.Quant)}
		resp.ComputeDType = s.ComputeDType
		resp.LoadedAtUnix = s.LoadedAt.Unix()
	}
	return resp
}

// GPUStatus reports accelerator telemetry for /gpu. Without an
// accelerator the list is empty.
func (m *Manager) GPUStatus() types.GPUStatusResponse {
	resp := types.GPUStatusResponse{GPUs: []types.GPUInfo{}}
	if !m.acc.Available() {
		return resp
	}
	for _, d := range m.acc.Devices() {
		resp.GPUs = append(resp.GPUs, types.GPUInfo{
			Index:             d.Index,
			Name:              d.Name,
			TotalBytes:        d.TotalBytes,
			FreeBytes:         d.FreeBytes,
			UsedBytes:         d.UsedBytes,
			ComputeCapability: d.ComputeCapability,
		})
	}
	resp.Count = len(resp.GPUs)
	resp.BF16 = m.acc.SupportsBF16()
	return resp
}

// RecentEvents returns retained lifecycle events, oldest first. It is
// empty unless the publisher keeps history.
func (m *Manager) RecentEvents() types.EventsResponse {
	resp := types.EventsResponse{Events: []types.LifecycleEvent{}}
	h, ok := m.pub.(interface{ Events() []Event })
	if !ok {
		return resp
	}
	for _, e := range h.Events() {
		resp.Events = append(resp.Events, types.LifecycleEvent{
			Name:     e.Name,
			ModelID:  e.ModelID,
			Fields:   e.Fields,
			AtUnixMs: e.At.UnixMilli(),
		})
	}
	return resp
}
