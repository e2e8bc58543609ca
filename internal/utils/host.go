package utils

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is a point-in-time view of host resources
type HostStats struct {
	CPUPercent     float64
	MemoryPercent  float64
	MemoryUsedMB   uint64
	MemoryTotalMB  uint64
	GoHeapAllocMB  uint64
	GoroutineCount int
}

// SampleHost reads CPU and memory utilisation. The CPU figure covers the time
// since the previous call, so the first sample may read zero.
func SampleHost(ctx context.Context) (HostStats, error) {
	var stats HostStats

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return stats, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to read memory usage: %w", err)
	}
	stats.MemoryPercent = vm.UsedPercent
	stats.MemoryUsedMB = vm.Used / 1024 / 1024
	stats.MemoryTotalMB = vm.Total / 1024 / 1024

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats.GoHeapAllocMB = ms.HeapAlloc / 1024 / 1024
	stats.GoroutineCount = runtime.NumGoroutine()

	return stats, nil
}

// Log writes the snapshot as a single structured line
func (s HostStats) Log(log zerolog.Logger, msg string) {
	log.Info().
		Float64("cpu_percent", s.CPUPercent).
		Float64("memory_percent", s.MemoryPercent).
		Uint64("memory_used_mb", s.MemoryUsedMB).
		Uint64("memory_total_mb", s.MemoryTotalMB).
		Uint64("go_heap_mb", s.GoHeapAllocMB).
		Int("goroutines", s.GoroutineCount).
		Msg(msg)
}
