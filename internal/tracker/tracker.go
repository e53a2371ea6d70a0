// Package tracker wires the metric store, host monitor, resource
// guard, analytics engine, and snapshot persistence into a single
// performance tracking facade.
package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/config"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/guard"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/logging"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/metrics"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/monitor"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/persistence"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/pkg/types"
)

// Tracker is the top-level performance tracking engine. It owns the
// background loops and exposes the recording, query, and admission
// surfaces the API server builds on.
type Tracker struct {
	cfg    *config.Config
	logger logging.Logger

	store     *metrics.Store
	analytics *metrics.Engine
	probe     monitor.HardwareProbe
	monitor   *monitor.SystemMonitor
	guard     *guard.Guard
	snapshots *persistence.Manager

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New assembles a tracker from configuration. probe may be nil, in
// which case the default gopsutil probe is used.
func New(cfg *config.Config, probe monitor.HardwareProbe, logger logging.Logger) (*Tracker, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker configuration: %w", err)
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	if probe == nil {
		var gpu monitor.GPUProbe
		if cfg.Monitor.GPUEnabled {
			gpu = monitor.NewNvidiaSMIProbe()
		}
		probe = monitor.NewGopsutilProbe(cfg.Monitor.DiskPath, gpu)
	}

	store := metrics.NewStore(metrics.StoreConfig{
		SampleCapacity: cfg.Store.SampleCapacity,
		SystemCapacity: cfg.Store.SystemCapacity,
	})

	t := &Tracker{
		cfg:       cfg,
		logger:    logger.WithComponent("tracker"),
		store:     store,
		analytics: metrics.NewEngine(store, cfg.Analytics.TimeoutThreshold, cfg.Analytics.DefaultCostPerToken),
		probe:     probe,
		monitor:   monitor.NewSystemMonitor(store, probe, cfg.Monitor.Interval, logger),
		guard:     guard.New(cfg.Thresholds, probe, cfg.Guard.WatchdogInterval, logger),
	}

	if cfg.Persistence.Enabled {
		t.snapshots = persistence.NewManager(store, cfg.Persistence.Path, cfg.Persistence.Interval, logger)
	}

	return t, nil
}

// Start restores the last snapshot and launches the monitor, watchdog,
// and snapshot loops. Calling Start on a running tracker is an error.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("tracker already started")
	}

	if t.snapshots != nil {
		if err := t.snapshots.Restore(); err != nil {
			t.logger.Warn("Snapshot restore failed, starting clean", "error", err.Error())
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.monitor.Run(runCtx)
	}()
	go func() {
		defer t.wg.Done()
		t.guard.RunWatchdog(runCtx)
	}()

	if t.snapshots != nil {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.snapshots.Run(runCtx)
		}()
	}

	t.started = true
	t.logger.Info("Performance tracker started")
	return nil
}

// Stop cancels the background loops and waits for them to drain. The
// snapshot loop writes a final snapshot on its way out.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return
	}

	t.cancel()
	t.wg.Wait()
	t.started = false
	t.logger.Info("Performance tracker stopped")
}

// RecordMetric stores one operation sample.
func (t *Tracker) RecordMetric(sample types.MetricSample) {
	t.store.Record(sample)
}

// RecordModelRecord stores or replaces a model load record.
func (t *Tracker) RecordModelRecord(record types.ModelRecord) {
	t.store.RecordModelRecord(record)
}

// GetCurrentMetrics returns the most recent sample for a key.
func (t *Tracker) GetCurrentMetrics(key string) (types.MetricSample, bool) {
	return t.store.Latest(key)
}

// GetAllLatest returns the most recent sample for every tracked key.
func (t *Tracker) GetAllLatest() map[string]types.MetricSample {
	return t.store.AllLatest()
}

// GetHistory returns the full retained history for a key.
func (t *Tracker) GetHistory(key string) []types.MetricSample {
	return t.store.History(key)
}

// GetModelRecords returns all model load records.
func (t *Tracker) GetModelRecords() map[string]types.ModelRecord {
	return t.store.ModelRecords()
}

// GetAnalytics derives windowed analytics for a key. The second return
// is false when the window holds no samples.
func (t *Tracker) GetAnalytics(key string, windowMinutes int) (*types.Analytics, bool) {
	return t.analytics.Compute(key, windowMinutes)
}

// SetCostPerToken overrides the per-token cost for one key.
func (t *Tracker) SetCostPerToken(key string, cost float64) {
	t.analytics.SetCostPerToken(key, cost)
}

// GetSystemMetrics returns the latest host sample, probing on demand
// when the monitor has not produced one yet.
func (t *Tracker) GetSystemMetrics(ctx context.Context) types.SystemSample {
	if sample, ok := t.store.LatestSystemSample(); ok {
		return sample
	}
	return t.monitor.Sample(ctx)
}

// GetSystemHistory returns the retained host sample history.
func (t *Tracker) GetSystemHistory() []types.SystemSample {
	return t.store.SystemHistory()
}

// CheckResources evaluates admission without taking a permit.
func (t *Tracker) CheckResources(ctx context.Context) types.GuardDecision {
	return t.guard.Check(ctx)
}

// AcquirePermit blocks until the guard admits a new operation.
func (t *Tracker) AcquirePermit(ctx context.Context) error {
	return t.guard.AcquirePermit(ctx)
}

// TryAcquirePermit admits a new operation or fails immediately.
func (t *Tracker) TryAcquirePermit(ctx context.Context) error {
	return t.guard.TryAcquirePermit(ctx)
}

// ReleasePermit returns a previously acquired permit.
func (t *Tracker) ReleasePermit() {
	t.guard.ReleasePermit()
}

// ActiveOperations returns the number of permits currently held.
func (t *Tracker) ActiveOperations() int64 {
	return t.guard.ActiveOperations()
}

// EmergencyActive reports whether the guard's emergency latch is set.
func (t *Tracker) EmergencyActive() bool {
	return t.guard.EmergencyActive()
}

// Thresholds returns the guard's current thresholds.
func (t *Tracker) Thresholds() types.ResourceThresholds {
	return t.guard.Thresholds()
}

// UpdateThresholds replaces the guard's thresholds.
func (t *Tracker) UpdateThresholds(thresholds types.ResourceThresholds) error {
	return t.guard.UpdateThresholds(thresholds)
}

// StartTimer begins timing an operation under the given key.
func (t *Tracker) StartTimer(key string) *metrics.OperationTimer {
	return metrics.NewOperationTimer(key)
}

// TrackOperation runs fn under a guard permit and records the timed
// sample, including token counts reported by fn and the host readings
// at completion. The permit is released on every path.
func (t *Tracker) TrackOperation(ctx context.Context, key string, fn func(ctx context.Context) (types.TokenCounts, error)) error {
	if err := t.guard.AcquirePermit(ctx); err != nil {
		return err
	}
	defer t.guard.ReleasePermit()

	timer := metrics.NewOperationTimer(key)
	counts, err := fn(ctx)

	var sample types.MetricSample
	if err != nil {
		sample = timer.FinishWithError(counts.Total, counts.Input, counts.Output)
	} else {
		sample = timer.Finish(counts.Total, counts.Input, counts.Output)
	}
	t.enrichSample(ctx, &sample)
	t.store.Record(sample)

	return err
}

// enrichSample attaches current host readings to an operation sample.
// Readings come from the retained monitor history when available so a
// burst of finishing operations does not hammer the probe.
func (t *Tracker) enrichSample(ctx context.Context, sample *types.MetricSample) {
	host, ok := t.store.LatestSystemSample()
	if !ok {
		host = t.monitor.Sample(ctx)
	}
	sample.CPUPercent = host.CPUPercent
	sample.MemoryMB = host.ProcessMemoryMB
	sample.GPUPercent = host.GPUPercent
	sample.GPUMemoryMB = host.GPUMemoryUsedMB
}
