// Package stats reports on the machine the agents run on.
package stats

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

type HostStats struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	CPUs          int     `json:"cpus"`
	Load1         float64 `json:"load1"`
	RAMUsage      float64 `json:"ram_usage"`
	RAMAvailable  uint64  `json:"ram_available"`
	CollectedAt   int64   `json:"collected_at"`
}

// Collect takes a snapshot without blocking on a CPU sample window. Fields a
// platform cannot provide are left zero.
func Collect() *HostStats {
	stats := &HostStats{
		OS:          runtime.GOOS,
		CPUs:        runtime.NumCPU(),
		CollectedAt: time.Now().Unix(),
	}

	if info, err := host.Info(); err == nil {
		stats.Hostname = info.Hostname
		stats.Platform = info.Platform
		stats.UptimeSeconds = info.Uptime
	}
	if avg, err := load.Avg(); err == nil {
		stats.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.RAMUsage = vm.UsedPercent
		stats.RAMAvailable = vm.Available
	}
	return stats
}
