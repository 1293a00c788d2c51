package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SkynetNext/stagepool/internal/config"
	"github.com/SkynetNext/stagepool/internal/logger"
	"github.com/SkynetNext/stagepool/internal/metrics"
)

// Manager holds the named buffer pools of a process.
// Pools are created once from configuration and shared by every caller.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool // name -> pool
}

// NewManager creates one pool per configured entry
func NewManager(cfgs []config.PoolConfig) (*Manager, error) {
	m := &Manager{
		pools: make(map[string]*Pool, len(cfgs)),
	}

	for _, cfg := range cfgs {
		if _, ok := m.pools[cfg.Name]; ok {
			return nil, fmt.Errorf("duplicate pool name: %s", cfg.Name)
		}

		var opts []Option
		if cfg.ClearOnRelease {
			opts = append(opts, WithClearOnRelease())
		}
		m.pools[cfg.Name] = NewPool(cfg.Name, cfg.Slots, cfg.InitialBufferSize, cfg.GrowthIncrement, opts...)

		logger.L.Info("buffer pool created",
			zap.String("pool", cfg.Name),
			zap.Int("slots", cfg.Slots),
			zap.Int("initial_buffer_size", cfg.InitialBufferSize),
			zap.Int("growth_increment", cfg.GrowthIncrement),
			zap.Bool("clear_on_release", cfg.ClearOnRelease),
		)
	}

	return m, nil
}

// Get returns the pool with the given name
func (m *Manager) Get(name string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// MustGet returns the pool with the given name or an error naming the missing pool
func (m *Manager) MustGet(name string) (*Pool, error) {
	p, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown buffer pool: %s", name)
	}
	return p, nil
}

// Names returns the pool names in sorted order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Report samples every pool once, updating capacity gauges and logging occupancy.
// Returns the number of buffers in use across all pools.
func (m *Manager) Report() int {
	m.mu.RLock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	totalInUse := 0
	for _, p := range pools {
		total, inUse, unused := p.Stats()
		capacity := p.CapacityBytes()
		metrics.PoolCapacityBytes.WithLabelValues(p.Name()).Set(float64(capacity))
		totalInUse += inUse

		logger.L.Debug("buffer pool stats",
			zap.String("pool", p.Name()),
			zap.Int("total", total),
			zap.Int("in_use", inUse),
			zap.Int("unused", unused),
			zap.Int("unused_capacity_bytes", capacity),
		)
	}
	return totalInUse
}

// StartStatsReporter reports pool statistics periodically until ctx is done
func (m *Manager) StartStatsReporter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Report()
		}
	}
}
