package manager

import (
	"sync"

	"github.com/rs/zerolog"

	"captiond/internal/runtime"
)

type Manager struct {
	provider runtime.Provider
	acc      runtime.Accelerator
	source   string
	cacheDir string
	pub      EventPublisher
	log      zerolog.Logger

	// opMu serialises loads, unloads and generations. Predict and Load hold
	// it across the whole request.
	opMu sync.Mutex

	// stMu guards the fields below for readers that must not wait on a
	// running load or generation.
	stMu      sync.RWMutex
	state     *LoadedState
	loads     uint64
	cacheHits uint64
	lastErr   string
}

// New returns a Manager serving source through provider on acc.
func New(provider runtime.Provider, acc runtime.Accelerator, source, cacheDir string) *Manager {
	return NewWithConfig(ManagerConfig{
		Provider:    provider,
		Accelerator: acc,
		ModelSource: source,
		CacheDir:    cacheDir,
	})
}

// Source is the artifact name the manager loads.
func (m *Manager) Source() string { return m.source }

// Accelerator is the device runtime in use.
func (m *Manager) Accelerator() runtime.Accelerator { return m.acc }

// Ready reports whether a model is resident.
func (m *Manager) Ready() bool {
	m.stMu.RLock()
	defer m.stMu.RUnlock()
	return m.state != nil
}

func (m *Manager) current() *LoadedState {
	m.stMu.RLock()
	defer m.stMu.RUnlock()
	return m.state
}

func (m *Manager) install(st *LoadedState) {
	m.stMu.Lock()
	m.state = st
	if st != nil {
		m.loads++
		m.lastErr = ""
	}
	m.stMu.Unlock()
	setLoadedGauge(st != nil)
}

func (m *Manager) clear() *LoadedState {
	m.stMu.Lock()
	st := m.state
	m.state = nil
	m.stMu.Unlock()
	setLoadedGauge(false)
	return st
}

func (m *Manager) recordError(err error) {
	m.stMu.Lock()
	m.lastErr = err.Error()
	m.stMu.Unlock()
}
