package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/logging"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/metrics"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/pkg/types"
)

// DefaultInterval is the default host sampling period.
const DefaultInterval = 5 * time.Second

// SystemMonitor periodically samples host state through a hardware
// probe and records the snapshots into the metric store. A failed
// individual probe degrades its fields to zero; the loop itself never
// aborts on probe errors.
type SystemMonitor struct {
	store    *metrics.Store
	probe    HardwareProbe
	interval time.Duration
	logger   logging.Logger

	// Previous cumulative counters for rate estimation
	prevDisk    DiskStats
	prevNet     NetworkStats
	prevSampled time.Time
	hasPrev     bool
	mu          sync.Mutex
}

// NewSystemMonitor creates a monitor over the given store and probe.
func NewSystemMonitor(store *metrics.Store, probe HardwareProbe, interval time.Duration, logger logging.Logger) *SystemMonitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &SystemMonitor{
		store:    store,
		probe:    probe,
		interval: interval,
		logger:   logger.WithComponent("system_monitor"),
	}
}

// Run samples on the configured interval until the context is
// canceled.
func (m *SystemMonitor) Run(ctx context.Context) {
	m.logger.Info("System monitor started", "interval", m.interval.String())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("System monitor stopped")
			return
		case <-ticker.C:
			m.store.RecordSystemSample(m.Sample(ctx))
		}
	}
}

// Sample takes one host snapshot immediately. Every probe failure is
// absorbed: the affected fields stay zero and the failure is logged at
// debug level.
func (m *SystemMonitor) Sample(ctx context.Context) types.SystemSample {
	now := time.Now()
	sample := types.SystemSample{Timestamp: now}

	if cpuPct, err := m.probe.CPUPercent(ctx); err == nil {
		sample.CPUPercent = cpuPct
	} else {
		m.logger.Debug("CPU probe failed", "error", err.Error())
	}

	if memStats, err := m.probe.Memory(ctx); err == nil {
		sample.MemoryTotalMB = memStats.TotalMB
		sample.MemoryUsedMB = memStats.UsedMB
		sample.MemoryAvailableMB = memStats.AvailableMB
		sample.MemoryPercent = memStats.UsedPercent
	} else {
		m.logger.Debug("Memory probe failed", "error", err.Error())
	}

	if gpuStats, err := m.probe.GPU(ctx); err == nil {
		sample.GPUCount = gpuStats.Count
		sample.GPUMemoryTotalMB = gpuStats.MemoryTotalMB
		sample.GPUMemoryUsedMB = gpuStats.MemoryUsedMB
		sample.GPUPercent = gpuStats.UtilizationPercent
		sample.GPUTemperatureC = gpuStats.TemperatureC
	} else {
		m.logger.Debug("GPU probe failed", "error", err.Error())
	}

	var diskStats DiskStats
	diskOK := false
	if d, err := m.probe.Disk(ctx); err == nil {
		diskStats = d
		diskOK = true
		sample.DiskUsedPercent = d.UsedPercent
	} else {
		m.logger.Debug("Disk probe failed", "error", err.Error())
	}

	var netStats NetworkStats
	netOK := false
	if n, err := m.probe.Network(ctx); err == nil {
		netStats = n
		netOK = true
	} else {
		m.logger.Debug("Network probe failed", "error", err.Error())
	}

	if procStats, err := m.probe.Processes(ctx); err == nil {
		sample.ProcessCount = procStats.Count
		sample.ProcessMemoryMB = procStats.MemoryMB
	} else {
		m.logger.Debug("Process probe failed", "error", err.Error())
	}

	m.fillRates(&sample, diskStats, diskOK, netStats, netOK, now)

	return sample
}

// fillRates estimates I/O rates from cumulative counter deltas between
// consecutive samples. The first sample has no baseline and reports
// zero rates.
func (m *SystemMonitor) fillRates(sample *types.SystemSample, diskStats DiskStats, diskOK bool, netStats NetworkStats, netOK bool, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasPrev {
		seconds := now.Sub(m.prevSampled).Seconds()
		if seconds > 0 {
			if diskOK {
				sample.DiskReadMBps = counterRateMB(m.prevDisk.ReadBytes, diskStats.ReadBytes, seconds)
				sample.DiskWriteMBps = counterRateMB(m.prevDisk.WriteBytes, diskStats.WriteBytes, seconds)
			}
			if netOK {
				sample.NetworkSentMBps = counterRateMB(m.prevNet.BytesSent, netStats.BytesSent, seconds)
				sample.NetworkRecvMBps = counterRateMB(m.prevNet.BytesRecv, netStats.BytesRecv, seconds)
			}
		}
	}

	if diskOK {
		m.prevDisk = diskStats
	}
	if netOK {
		m.prevNet = netStats
	}
	m.prevSampled = now
	m.hasPrev = m.hasPrev || diskOK || netOK
}

// counterRateMB converts a cumulative byte counter delta to MB/s,
// treating counter resets as zero.
func counterRateMB(prev, curr uint64, seconds float64) float64 {
	if curr < prev {
		return 0
	}
	return float64(curr-prev) / (1024 * 1024) / seconds
}
