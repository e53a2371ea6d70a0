// Package monitor samples host resource usage on a fixed interval
// through pluggable hardware probes and feeds the metric store.
package monitor

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// MemoryStats holds one memory reading
type MemoryStats struct {
	TotalMB     float64
	UsedMB      float64
	AvailableMB float64
	UsedPercent float64
}

// GPUStats holds one GPU reading aggregated across devices.
// A Count of zero means no GPU is observable on this host.
type GPUStats struct {
	Count              int
	MemoryTotalMB      float64
	MemoryUsedMB       float64
	UtilizationPercent float64
	TemperatureC       float64
}

// DiskStats holds disk usage plus cumulative I/O counters. The monitor
// converts counters to rates between consecutive samples.
type DiskStats struct {
	UsedPercent float64
	ReadBytes   uint64
	WriteBytes  uint64
}

// NetworkStats holds cumulative network I/O counters.
type NetworkStats struct {
	BytesSent uint64
	BytesRecv uint64
}

// ProcessStats holds the tracked process count and aggregate memory.
type ProcessStats struct {
	Count    int
	MemoryMB float64
}

// HardwareProbe abstracts platform-specific host state sampling so the
// monitor, guard, and tests stay platform-agnostic. Implementations
// return an error for an unavailable reading; callers degrade the
// affected fields rather than failing.
type HardwareProbe interface {
	CPUPercent(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (MemoryStats, error)
	GPU(ctx context.Context) (GPUStats, error)
	Disk(ctx context.Context) (DiskStats, error)
	Network(ctx context.Context) (NetworkStats, error)
	Processes(ctx context.Context) (ProcessStats, error)
}

// GPUProbe reads GPU state; it is a separate interface because GPU
// tooling is vendor-specific while the rest of the probe is not.
type GPUProbe interface {
	Sample(ctx context.Context) (GPUStats, error)
}

// GopsutilProbe implements HardwareProbe through the gopsutil system
// information library, with an optional vendor GPU probe.
type GopsutilProbe struct {
	diskPath string
	gpu      GPUProbe
}

// NewGopsutilProbe creates the default cross-platform probe. diskPath
// is the mount point measured for disk usage; gpu may be nil when GPU
// sampling is disabled or unsupported.
func NewGopsutilProbe(diskPath string, gpu GPUProbe) *GopsutilProbe {
	if diskPath == "" {
		diskPath = "/"
	}
	return &GopsutilProbe{diskPath: diskPath, gpu: gpu}
}

// CPUPercent returns the host CPU utilization since the previous call.
func (p *GopsutilProbe) CPUPercent(ctx context.Context) (float64, error) {
	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, nil
	}
	return percentages[0], nil
}

// Memory returns host memory totals.
func (p *GopsutilProbe) Memory(ctx context.Context) (MemoryStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryStats{}, err
	}
	return MemoryStats{
		TotalMB:     bytesToMB(vm.Total),
		UsedMB:      bytesToMB(vm.Used),
		AvailableMB: bytesToMB(vm.Available),
		UsedPercent: vm.UsedPercent,
	}, nil
}

// GPU delegates to the vendor GPU probe when one is configured.
func (p *GopsutilProbe) GPU(ctx context.Context) (GPUStats, error) {
	if p.gpu == nil {
		return GPUStats{}, nil
	}
	return p.gpu.Sample(ctx)
}

// Disk returns usage of the configured mount point plus cumulative
// I/O counters summed across devices.
func (p *GopsutilProbe) Disk(ctx context.Context) (DiskStats, error) {
	usage, err := disk.UsageWithContext(ctx, p.diskPath)
	if err != nil {
		return DiskStats{}, err
	}

	stats := DiskStats{UsedPercent: usage.UsedPercent}

	// Counter failures leave the rates at zero but keep the usage reading
	if counters, err := disk.IOCountersWithContext(ctx); err == nil {
		for _, c := range counters {
			stats.ReadBytes += c.ReadBytes
			stats.WriteBytes += c.WriteBytes
		}
	}

	return stats, nil
}

// Network returns cumulative network I/O counters across interfaces.
func (p *GopsutilProbe) Network(ctx context.Context) (NetworkStats, error) {
	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return NetworkStats{}, err
	}
	stats := NetworkStats{}
	for _, c := range counters {
		stats.BytesSent += c.BytesSent
		stats.BytesRecv += c.BytesRecv
	}
	return stats, nil
}

// Processes returns the process count and aggregate resident memory.
func (p *GopsutilProbe) Processes(ctx context.Context) (ProcessStats, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return ProcessStats{}, err
	}

	stats := ProcessStats{Count: len(procs)}
	for _, proc := range procs {
		info, err := proc.MemoryInfoWithContext(ctx)
		if err != nil || info == nil {
			continue
		}
		stats.MemoryMB += bytesToMB(info.RSS)
	}
	return stats, nil
}

func bytesToMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}

// StaticProbe is a HardwareProbe returning fixed values. It backs tests
// and hosts where real probing is unavailable.
type StaticProbe struct {
	CPU  float64
	Mem  MemoryStats
	Gpu  GPUStats
	Dsk  DiskStats
	Net  NetworkStats
	Proc ProcessStats

	// Err, when set, is returned by every reading.
	Err error

	mu sync.RWMutex
}

// NewStaticProbe returns a probe with healthy default readings.
func NewStaticProbe() *StaticProbe {
	return &StaticProbe{
		CPU: 10.0,
		Mem: MemoryStats{
			TotalMB:     16384,
			UsedMB:      4096,
			AvailableMB: 12288,
			UsedPercent: 25.0,
		},
	}
}

// SetCPUPercent updates the fixed CPU reading.
func (p *StaticProbe) SetCPUPercent(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CPU = v
}

// SetMemory updates the fixed memory reading.
func (p *StaticProbe) SetMemory(m MemoryStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Mem = m
}

// SetGPU updates the fixed GPU reading.
func (p *StaticProbe) SetGPU(g GPUStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Gpu = g
}

// SetError makes every reading fail with err.
func (p *StaticProbe) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// CPUPercent returns the fixed CPU reading.
func (p *StaticProbe) CPUPercent(_ context.Context) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.CPU, p.Err
}

// Memory returns the fixed memory reading.
func (p *StaticProbe) Memory(_ context.Context) (MemoryStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Mem, p.Err
}

// GPU returns the fixed GPU reading.
func (p *StaticProbe) GPU(_ context.Context) (GPUStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Gpu, p.Err
}

// Disk returns the fixed disk reading.
func (p *StaticProbe) Disk(_ context.Context) (DiskStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Dsk, p.Err
}

// Network returns the fixed network reading.
func (p *StaticProbe) Network(_ context.Context) (NetworkStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Net, p.Err
}

// Processes returns the fixed process reading.
func (p *StaticProbe) Processes(_ context.Context) (ProcessStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Proc, p.Err
}
