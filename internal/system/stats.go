package system

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceSnapshot is a point-in-time view of host and process load,
// printed in the export performance report.
type ResourceSnapshot struct {
	NumCPU        int
	CPUPercent    float64
	MemUsedPct    float64
	MemTotalBytes uint64
	ProcessRSS    uint64
	GoHeapBytes   uint64
}

// Snapshot collects what it can; a failed probe leaves its field zero.
func Snapshot(ctx context.Context) ResourceSnapshot {
	var s ResourceSnapshot
	s.NumCPU = runtime.NumCPU()

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemUsedPct = vm.UsedPercent
		s.MemTotalBytes = vm.Total
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSS = mi.RSS
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.GoHeapBytes = ms.HeapAlloc
	return s
}

func (s ResourceSnapshot) String() string {
	return fmt.Sprintf("cpu=%d load=%.1f%% mem=%.1f%% of %s rss=%s heap=%s",
		s.NumCPU, s.CPUPercent, s.MemUsedPct, humanBytes(s.MemTotalBytes), humanBytes(s.ProcessRSS), humanBytes(s.GoHeapBytes))
}

func humanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
