package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/logging"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/monitor"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/pkg/types"
)

const (
	// DefaultWatchdogInterval is the period between watchdog samples.
	DefaultWatchdogInterval = 5 * time.Second

	emergencyRetryDelay = 60 * time.Second
	lowMemoryRetryDelay = 10 * time.Second
)

// Guard gates concurrent execution of expensive operations. Checks are
// best-effort, not linearizable: thresholds are read, then acted on,
// without holding a lock across the whole decision.
type Guard struct {
	probe  monitor.HardwareProbe
	logger logging.Logger

	thresholds types.ResourceThresholds
	mu         sync.RWMutex

	// Emergency latch: set by any checker or the watchdog, cleared
	// only by the watchdog after a full cooldown.
	emergency atomic.Bool

	sem              *semaphore.Weighted
	maxOps           int64
	active           atomic.Int64
	watchdogInterval time.Duration
}

// New creates a guard with the given thresholds and probe.
func New(thresholds types.ResourceThresholds, probe monitor.HardwareProbe, watchdogInterval time.Duration, logger logging.Logger) *Guard {
	if watchdogInterval <= 0 {
		watchdogInterval = DefaultWatchdogInterval
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Guard{
		probe:            probe,
		logger:           logger.WithComponent("resource_guard"),
		thresholds:       thresholds,
		sem:              semaphore.NewWeighted(thresholds.MaxConcurrentOps),
		maxOps:           thresholds.MaxConcurrentOps,
		watchdogInterval: watchdogInterval,
	}
}

// Thresholds returns a copy of the current thresholds.
func (g *Guard) Thresholds() types.ResourceThresholds {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.thresholds
}

// UpdateThresholds replaces the threshold configuration. This is the
// only sanctioned mutation path; the monitoring loops never touch it.
// The concurrency cap is fixed at construction and is not resized here.
func (g *Guard) UpdateThresholds(t types.ResourceThresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	t.MaxConcurrentOps = g.maxOps
	g.thresholds = t
	g.mu.Unlock()

	g.logger.Info("Resource thresholds updated",
		"max_cpu", t.MaxCPUPercent,
		"critical_cpu", t.CriticalCPUPercent,
		"max_memory", t.MaxMemoryPercent,
		"critical_memory", t.CriticalMemoryPercent,
	)
	return nil
}

// EmergencyActive reports whether the emergency shutdown latch is set.
func (g *Guard) EmergencyActive() bool {
	return g.emergency.Load()
}

// ActiveOperations returns the number of currently held permits.
func (g *Guard) ActiveOperations() int64 {
	return g.active.Load()
}

// Check evaluates the guard conditions in fixed order and
// short-circuits on the first applicable one:
//
//  1. emergency latch set
//  2. CPU or memory at/above critical (sets the latch)
//  3. available memory below the configured minimum
//  4. CPU above the soft maximum
//  5. memory above the soft maximum
//  6. observable GPU above its maximum
//  7. allow
func (g *Guard) Check(ctx context.Context) types.GuardDecision {
	t := g.Thresholds()

	if g.emergency.Load() {
		return types.GuardDecision{
			Reason:     "emergency shutdown active",
			RetryAfter: emergencyRetryDelay,
		}
	}

	// Probe failures read as zero: an unobservable host never blocks
	// admission on its own.
	cpuPct, err := g.probe.CPUPercent(ctx)
	if err != nil {
		cpuPct = 0
	}
	memStats, err := g.probe.Memory(ctx)
	if err != nil {
		memStats = monitor.MemoryStats{}
	}

	decision := types.GuardDecision{
		CPUPercent:    cpuPct,
		MemoryPercent: memStats.UsedPercent,
	}

	if cpuPct >= t.CriticalCPUPercent || memStats.UsedPercent >= t.CriticalMemoryPercent {
		g.tripEmergency(cpuPct, memStats.UsedPercent)
		decision.Reason = "critical resource pressure, emergency shutdown engaged"
		decision.RetryAfter = emergencyRetryDelay
		return decision
	}

	if memStats.AvailableMB > 0 && memStats.AvailableMB < t.MinFreeMemoryMB {
		decision.Reason = "available memory below minimum"
		decision.ThrottleFactor = 0.2
		decision.RetryAfter = lowMemoryRetryDelay
		return decision
	}

	if cpuPct > t.MaxCPUPercent {
		throttle := clamp((cpuPct-t.MaxCPUPercent)/10, 0, 1)
		decision.Reason = "cpu usage above maximum"
		decision.ThrottleFactor = throttle
		decision.RetryAfter = time.Duration(throttle * 5000 * float64(time.Millisecond))
		return decision
	}

	if memStats.UsedPercent > t.MaxMemoryPercent {
		throttle := clamp((memStats.UsedPercent-t.MaxMemoryPercent)/5, 0, 1)
		decision.Reason = "memory usage above maximum"
		decision.ThrottleFactor = throttle
		decision.RetryAfter = time.Duration(throttle * 3000 * float64(time.Millisecond))
		return decision
	}

	if gpuStats, err := g.probe.GPU(ctx); err == nil && gpuStats.Count > 0 {
		decision.GPUPercent = gpuStats.UtilizationPercent
		if gpuStats.UtilizationPercent > t.MaxGPUPercent {
			decision.Reason = "gpu utilization above maximum"
			decision.ThrottleFactor = 0.5
			decision.RetryAfter = 5 * time.Second
			return decision
		}
	}

	decision.Allowed = true
	decision.Reason = "resources available"
	decision.ThrottleFactor = 1.0
	return decision
}

// AcquirePermit blocks until the guard allows a new operation, then
// takes one concurrency slot. Denials sleep the suggested retry delay
// and re-check; there is no retry cap — callers bound the wait through
// ctx. A passing check with no free slot fails immediately with
// ErrTooManyOperations.
func (g *Guard) AcquirePermit(ctx context.Context) error {
	for {
		decision := g.Check(ctx)
		if decision.Allowed {
			if !g.sem.TryAcquire(1) {
				return ErrTooManyOperations
			}
			g.active.Add(1)
			return nil
		}

		wait := decision.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		g.logger.DebugContext(ctx, "Permit denied, backing off",
			"reason", decision.Reason,
			"retry_after", wait.String(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// TryAcquirePermit is the non-blocking variant of AcquirePermit. A
// failing check returns a DeniedError carrying the reason and retry
// hint; a passing check with no free slot returns ErrTooManyOperations.
func (g *Guard) TryAcquirePermit(ctx context.Context) error {
	decision := g.Check(ctx)
	if !decision.Allowed {
		return &DeniedError{Reason: decision.Reason, RetryAfter: decision.RetryAfter}
	}
	if !g.sem.TryAcquire(1) {
		return ErrTooManyOperations
	}
	g.active.Add(1)
	return nil
}

// ReleasePermit returns a slot to the limiter. Callers should pair it
// with a successful acquire; releasing with no permit held is a no-op.
func (g *Guard) ReleasePermit() {
	for {
		current := g.active.Load()
		if current <= 0 {
			return
		}
		if g.active.CompareAndSwap(current, current-1) {
			g.sem.Release(1)
			return
		}
	}
}

// tripEmergency sets the latch; setting an already-set latch is a
// no-op so concurrent checkers stay idempotent.
func (g *Guard) tripEmergency(cpuPct, memPct float64) {
	if g.emergency.CompareAndSwap(false, true) {
		g.logger.Error("Emergency shutdown engaged",
			"cpu_percent", cpuPct,
			"memory_percent", memPct,
		)
	}
}

// RunWatchdog samples CPU and memory on a fixed period. At or above a
// critical threshold it engages the emergency latch, holds it for the
// full cooldown, then clears it unconditionally. The clear does not
// re-check resource pressure: the cooldown is a fixed lockout window,
// not a closed-loop controller.
func (g *Guard) RunWatchdog(ctx context.Context) {
	g.logger.Info("Guard watchdog started", "interval", g.watchdogInterval.String())

	ticker := time.NewTicker(g.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("Guard watchdog stopped")
			return
		case <-ticker.C:
			g.watchdogTick(ctx)
		}
	}
}

func (g *Guard) watchdogTick(ctx context.Context) {
	t := g.Thresholds()

	cpuPct, err := g.probe.CPUPercent(ctx)
	if err != nil {
		cpuPct = 0
	}
	memStats, err := g.probe.Memory(ctx)
	if err != nil {
		memStats = monitor.MemoryStats{}
	}

	if cpuPct >= t.CriticalCPUPercent || memStats.UsedPercent >= t.CriticalMemoryPercent {
		g.tripEmergency(cpuPct, memStats.UsedPercent)
	}

	if !g.emergency.Load() {
		return
	}

	g.logger.Warn("Emergency cooldown started", "cooldown", t.Cooldown.String())
	select {
	case <-ctx.Done():
		return
	case <-time.After(t.Cooldown):
	}

	g.emergency.Store(false)
	g.logger.Info("Emergency shutdown cleared after cooldown")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
