package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/pkg/types"
)

// DefaultTimeoutThreshold marks samples slower than this as timeouts
// when computing the timeout rate.
const DefaultTimeoutThreshold = 30 * time.Second

// Engine computes rolling analytics over windowed slices of the store.
// Computation is pure over a snapshot; it is safe to call concurrently
// with writers.
type Engine struct {
	store *Store

	timeoutThreshold    time.Duration
	defaultCostPerToken float64
	costPerToken        map[string]float64
	mu                  sync.RWMutex
}

// NewEngine creates an analytics engine over the given store.
func NewEngine(store *Store, timeoutThreshold time.Duration, defaultCostPerToken float64) *Engine {
	if timeoutThreshold <= 0 {
		timeoutThreshold = DefaultTimeoutThreshold
	}
	return &Engine{
		store:               store,
		timeoutThreshold:    timeoutThreshold,
		defaultCostPerToken: defaultCostPerToken,
		costPerToken:        make(map[string]float64),
	}
}

// SetCostPerToken sets the per-token cost used for cost estimation of
// the given key.
func (e *Engine) SetCostPerToken(key string, cost float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.costPerToken[key] = cost
}

// CostPerToken returns the configured cost for a key, falling back to
// the engine default.
func (e *Engine) CostPerToken(key string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if cost, ok := e.costPerToken[key]; ok {
		return cost
	}
	return e.defaultCostPerToken
}

// Compute aggregates all samples for the key whose timestamps fall
// inside the trailing window. The second return value is false when the
// window holds no samples; that is a legitimate empty result, not an
// error.
func (e *Engine) Compute(key string, windowMinutes int) (*types.Analytics, bool) {
	return e.computeAt(key, windowMinutes, time.Now())
}

// computeAt exists so tests can pin the reference clock.
func (e *Engine) computeAt(key string, windowMinutes int, now time.Time) (*types.Analytics, bool) {
	if windowMinutes <= 0 {
		windowMinutes = 1
	}

	window := time.Duration(windowMinutes) * time.Minute
	samples := e.store.HistorySince(key, now.Add(-window))
	if len(samples) == 0 {
		return nil, false
	}

	n := len(samples)
	a := &types.Analytics{
		Key:           key,
		WindowMinutes: windowMinutes,
		GeneratedAt:   now,
		TotalRequests: n,
	}

	durations := make([]time.Duration, n)
	var (
		totalDuration time.Duration
		errorCount    int
		timeoutCount  int
		sumCPU        float64
		sumMemory     float64
		sumGPU        float64
		sumGPUMemory  float64
		sumCacheHit   float64
		sumSpeed      float64
		sumAccuracy   float64
	)

	for i := range samples {
		s := &samples[i]
		durations[i] = s.Duration
		totalDuration += s.Duration
		a.TotalTokens += s.TotalTokens
		if s.ErrorCount > 0 {
			errorCount += s.ErrorCount
		}
		if s.Duration > e.timeoutThreshold {
			timeoutCount++
		}
		sumCPU += s.CPUPercent
		sumMemory += s.MemoryMB
		sumGPU += s.GPUPercent
		sumGPUMemory += s.GPUMemoryMB
		sumCacheHit += s.CacheHitRate
		sumSpeed += s.ProcessingSpeed
		sumAccuracy += s.AccuracyScore
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	a.P50Latency = percentile(durations, 50)
	a.P95Latency = percentile(durations, 95)
	a.P99Latency = percentile(durations, 99)
	a.MinLatency = durations[0]
	a.MaxLatency = durations[n-1]
	a.AvgLatency = totalDuration / time.Duration(n)

	windowSeconds := window.Seconds()
	a.RequestsPerSecond = float64(n) / windowSeconds
	a.TokensPerSecond = float64(a.TotalTokens) / windowSeconds

	a.ErrorRate = float64(errorCount) / float64(n) * 100
	a.SuccessRate = 100 - a.ErrorRate
	a.TimeoutRate = float64(timeoutCount) / float64(n) * 100

	fn := float64(n)
	a.AvgCPUPercent = sumCPU / fn
	a.AvgMemoryMB = sumMemory / fn
	a.AvgGPUPercent = sumGPU / fn
	a.AvgGPUMemoryMB = sumGPUMemory / fn
	a.AvgCacheHitRate = sumCacheHit / fn
	a.AvgProcessingSpeed = sumSpeed / fn
	a.AvgAccuracyScore = sumAccuracy / fn

	a.EstimatedCost = float64(a.TotalTokens) * e.CostPerToken(key)

	return a, true
}

// percentile returns the value at one-based rank floor(p/100 * N) of
// the sorted slice, clamped to [1, N]. This is the lower-bound
// nearest-rank rule: p50 of ten values is the 5th smallest, p95 the
// 9th. It intentionally differs from interpolated percentile
// definitions so results are reproducible across implementations.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := p * len(sorted) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
