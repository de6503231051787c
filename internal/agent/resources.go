package agent

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	cpustat "github.com/shirou/gopsutil/v4/cpu"
	diskstat "github.com/shirou/gopsutil/v4/disk"
	memstat "github.com/shirou/gopsutil/v4/mem"
)

// Usage is a snapshot of the host resource consumption a Monitor tracks.
type Usage struct {
	CPUPercent       float64
	MemoryBytes      int64
	MemoryTotalBytes int64
	DiskBytes        int64
	DiskTotalBytes   int64
}

// Monitor polls host CPU, memory and disk usage on an interval and
// exposes the latest snapshot. The agent feeds it into the
// loadforge_agent_cpu_usage_percent / memory_usage_percent gauges; nothing
// in the console protocol depends on it.
type Monitor struct {
	diskPath string
	logger   zerolog.Logger

	mu    sync.RWMutex
	usage Usage
}

// NewMonitor creates a Monitor that reports disk usage for diskPath.
func NewMonitor(diskPath string, logger zerolog.Logger) *Monitor {
	m := &Monitor{
		diskPath: diskPath,
		logger:   logger.With().Str("component", "resource_monitor").Logger(),
	}
	m.update(context.Background())
	return m
}

// Run polls at interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.update(ctx)
		}
	}
}

func (m *Monitor) update(ctx context.Context) {
	usage := Usage{}

	if percents, err := cpustat.PercentWithContext(ctx, 0, false); err != nil {
		m.logger.Debug().Err(err).Msg("cpu.Percent failed")
	} else if len(percents) > 0 {
		usage.CPUPercent = percents[0]
	}

	if vm, err := memstat.VirtualMemoryWithContext(ctx); err != nil {
		m.logger.Debug().Err(err).Msg("mem.VirtualMemory failed")
	} else {
		usage.MemoryBytes = int64(vm.Used)
		usage.MemoryTotalBytes = int64(vm.Total)
	}

	path := m.diskPath
	if path == "" {
		path = "/"
	}
	if du, err := diskstat.UsageWithContext(ctx, path); err != nil {
		m.logger.Debug().Err(err).Str("path", path).Msg("disk.Usage failed")
	} else {
		usage.DiskBytes = int64(du.Used)
		usage.DiskTotalBytes = int64(du.Total)
	}

	m.mu.Lock()
	m.usage = usage
	m.mu.Unlock()
}

// Usage returns the latest snapshot.
func (m *Monitor) Usage() Usage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage
}

// CPUCores returns the number of logical CPUs available to the process.
func (m *Monitor) CPUCores() int {
	return runtime.NumCPU()
}
