package distwq

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostLoad is a point-in-time resource snapshot attached to a Stats record,
// grounded on the same gopsutil CPU/memory sampling the platform's
// monitoring service uses for its periodic system metrics, taken here once
// per completed task instead of on a fixed ticker.
type HostLoad struct {
	CPUPercent    float64
	MemoryPercent float64
}

// SampleHostLoad captures current CPU and memory utilization. Failures are
// swallowed into a zero-value snapshot: host metrics are an enrichment, not
// a task-execution precondition.
func SampleHostLoad() *HostLoad {
	load := &HostLoad{}
	if percents, err := cpu.Percent(50*time.Millisecond, false); err == nil && len(percents) > 0 {
		load.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		load.MemoryPercent = vm.UsedPercent
	}
	return load
}
