package accel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"captiond/internal/runtime"
)

// PoolConfig describes a single accelerator device.
type PoolConfig struct {
	Name              string
	TotalBytes        int64
	ContextBytes      int64 // fixed reservation made when the context comes up
	BF16              bool
	ComputeCapability string
	// Probe, when set, supplies live telemetry for Devices.
	Probe func(ctx context.Context) ([]runtime.DeviceInfo, error)
}

// Stats is the allocator's accounting.
type Stats struct {
	Allocated       int64
	Cached          int64
	Context         int64
	EmptyCacheCalls int
	IPCCollectCalls int
}

// Pool tracks device residency with caching-allocator semantics: released
// blocks stay reserved until EmptyCache, and the context reservation is
// only returned by Reset.
type Pool struct {
	cfg PoolConfig

	mu        sync.Mutex
	allocated int64
	cached    int64
	ctxUp     bool
	stats     Stats
}

// NewPool returns a Pool for cfg.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Name == "" {
		cfg.Name = "accelerator"
	}
	return &Pool{cfg: cfg}
}

func (p *Pool) Available() bool    { return true }
func (p *Pool) DeviceCount() int   { return 1 }
func (p *Pool) SupportsBF16() bool { return p.cfg.BF16 }

// Reserve claims n bytes, reusing cached blocks first.
func (p *Pool) Reserve(n int64) error {
	if n <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ctxUp {
		if p.cfg.ContextBytes > p.cfg.TotalBytes {
			return fmt.Errorf("init context: %w", runtime.ErrOutOfMemory)
		}
		p.ctxUp = true
	}
	if p.cached >= n {
		p.cached -= n
		p.allocated += n
		return nil
	}
	ctxBytes := p.cfg.ContextBytes
	if p.allocated+ctxBytes+n > p.cfg.TotalBytes {
		free := p.cfg.TotalBytes - p.allocated - ctxBytes
		return fmt.Errorf("tried to allocate %d bytes (%d free): %w", n, free, runtime.ErrOutOfMemory)
	}
	// The partial cached block is folded into the new allocation.
	p.cached = 0
	p.allocated += n
	return nil
}

// Release returns n bytes to the cache.
func (p *Pool) Release(n int64) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > p.allocated {
		n = p.allocated
	}
	p.allocated -= n
	p.cached += n
}

func (p *Pool) EmptyCache() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = 0
	p.stats.EmptyCacheCalls++
	return nil
}

func (p *Pool) IPCCollect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.IPCCollectCalls++
	return nil
}

// Reset releases the context reservation. It refuses while weights are
// still resident.
func (p *Pool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocated > 0 {
		return errors.New("accelerator reset: device memory still allocated")
	}
	p.cached = 0
	p.ctxUp = false
	return nil
}

// Stats returns a copy of the allocator accounting.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Allocated = p.allocated
	s.Cached = p.cached
	if p.ctxUp {
		s.Context = p.cfg.ContextBytes
	}
	return s
}

// Devices reports live telemetry when a probe is configured, otherwise the
// pool's own accounting.
func (p *Pool) Devices() []runtime.DeviceInfo {
	if p.cfg.Probe != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if devs, err := p.cfg.Probe(ctx); err == nil && len(devs) > 0 {
			return devs
		}
	}
	p.mu.Lock()
	used := p.usedLocked()
	p.mu.Unlock()
	free := p.cfg.TotalBytes - used
	if free < 0 {
		free = 0
	}
	return []runtime.DeviceInfo{{
		Index:             0,
		Name:              p.cfg.Name,
		TotalBytes:        uint64(p.cfg.TotalBytes),
		FreeBytes:         uint64(free),
		UsedBytes:         uint64(used),
		ComputeCapability: p.cfg.ComputeCapability,
	}}
}

func (p *Pool) usedLocked() int64 {
	u := p.allocated + p.cached
	if p.ctxUp {
		u += p.cfg.ContextBytes
	}
	return u
}
