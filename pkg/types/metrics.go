// Package types provides the shared data structures for the performance
// tracking engine: operation samples, host snapshots, model records,
// guard thresholds and decisions, and rolling analytics results.
package types

import (
	"errors"
	"time"
)

// MetricSample represents one completed expensive operation (model
// inference, document analysis, compliance scan). Samples are immutable
// once created; the store evicts them oldest-first on overflow.
type MetricSample struct {
	Key       string        `json:"key"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`

	// Token accounting
	TotalTokens     int64   `json:"total_tokens"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	TokensPerSecond float64 `json:"tokens_per_second"`

	// Resource snapshot at completion time
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryMB    float64 `json:"memory_mb"`
	GPUPercent  float64 `json:"gpu_percent"`
	GPUMemoryMB float64 `json:"gpu_memory_mb"`

	CacheHitRate float64       `json:"cache_hit_rate"`
	QueueWait    time.Duration `json:"queue_wait"`
	ErrorCount   int           `json:"error_count"`

	// Domain-specific extras
	ProcessingSpeed float64 `json:"processing_speed"`
	AccuracyScore   float64 `json:"accuracy_score"`
}

// SystemSample represents one point-in-time host snapshot taken by the
// system monitor. Individual fields degrade to zero when a probe is
// unavailable; the sample itself is always produced.
type SystemSample struct {
	Timestamp time.Time `json:"timestamp"`

	CPUPercent float64 `json:"cpu_percent"`

	MemoryTotalMB     float64 `json:"memory_total_mb"`
	MemoryUsedMB      float64 `json:"memory_used_mb"`
	MemoryAvailableMB float64 `json:"memory_available_mb"`
	MemoryPercent     float64 `json:"memory_percent"`

	GPUCount          int     `json:"gpu_count"`
	GPUMemoryTotalMB  float64 `json:"gpu_memory_total_mb"`
	GPUMemoryUsedMB   float64 `json:"gpu_memory_used_mb"`
	GPUPercent        float64 `json:"gpu_percent"`
	GPUTemperatureC   float64 `json:"gpu_temperature_c"`

	DiskUsedPercent float64 `json:"disk_used_percent"`
	DiskReadMBps    float64 `json:"disk_read_mbps"`
	DiskWriteMBps   float64 `json:"disk_write_mbps"`

	NetworkSentMBps float64 `json:"network_sent_mbps"`
	NetworkRecvMBps float64 `json:"network_recv_mbps"`

	ProcessCount    int     `json:"process_count"`
	ProcessMemoryMB float64 `json:"process_memory_mb"`
}

// ModelRecord holds the latest-known load and inference characteristics
// for a subject key. The store keeps a single slot per key; each report
// overwrites the previous one.
type ModelRecord struct {
	Key               string        `json:"key"`
	LoadTime          time.Duration `json:"load_time"`
	LoadSuccess       bool          `json:"load_success"`
	LoadMessage       string        `json:"load_message,omitempty"`
	FirstTokenLatency time.Duration `json:"first_token_latency"`
	TokensPerSecond   float64       `json:"tokens_per_second"`
	MemoryFootprintMB float64       `json:"memory_footprint_mb"`
	ThreadCount       int           `json:"thread_count"`
	ThreadEfficiency  float64       `json:"thread_efficiency"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// TokenCounts reports the token usage of one tracked operation.
type TokenCounts struct {
	Total  int64 `json:"total"`
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// ResourceThresholds configures the admission-control guard. Fields are
// read-mostly; updates go through the guard's explicit administrative
// call, never through the monitoring loops.
type ResourceThresholds struct {
	MaxCPUPercent         float64       `json:"max_cpu_percent"`
	CriticalCPUPercent    float64       `json:"critical_cpu_percent"`
	MaxMemoryPercent      float64       `json:"max_memory_percent"`
	CriticalMemoryPercent float64       `json:"critical_memory_percent"`
	MaxGPUPercent         float64       `json:"max_gpu_percent"`
	MinFreeMemoryMB       float64       `json:"min_free_memory_mb"`
	MaxConcurrentOps      int64         `json:"max_concurrent_ops"`
	Cooldown              time.Duration `json:"cooldown"`
}

// DefaultResourceThresholds returns the default guard configuration.
func DefaultResourceThresholds() ResourceThresholds {
	return ResourceThresholds{
		MaxCPUPercent:         80.0,
		CriticalCPUPercent:    95.0,
		MaxMemoryPercent:      85.0,
		CriticalMemoryPercent: 95.0,
		MaxGPUPercent:         90.0,
		MinFreeMemoryMB:       512.0,
		MaxConcurrentOps:      8,
		Cooldown:              5 * time.Second,
	}
}

// Validate checks threshold ordering and positivity.
func (t *ResourceThresholds) Validate() error {
	if t.MaxConcurrentOps <= 0 {
		return errors.New("max_concurrent_ops must be positive")
	}
	if t.Cooldown <= 0 {
		return errors.New("cooldown must be positive")
	}
	if t.CriticalCPUPercent <= t.MaxCPUPercent {
		return errors.New("critical_cpu_percent must exceed max_cpu_percent")
	}
	if t.CriticalMemoryPercent <= t.MaxMemoryPercent {
		return errors.New("critical_memory_percent must exceed max_memory_percent")
	}
	if t.MinFreeMemoryMB < 0 {
		return errors.New("min_free_memory_mb must not be negative")
	}
	return nil
}

// GuardDecision is the outcome of one admission check. It is transient
// and never persisted.
type GuardDecision struct {
	Allowed        bool          `json:"allowed"`
	Reason         string        `json:"reason"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryPercent  float64       `json:"memory_percent"`
	GPUPercent     float64       `json:"gpu_percent"`
	ThrottleFactor float64       `json:"throttle_factor"`
	RetryAfter     time.Duration `json:"retry_after,omitempty"`
}

// Analytics aggregates all samples for one key inside a sliding time
// window. It is derived on demand and never stored.
type Analytics struct {
	Key           string    `json:"key"`
	WindowMinutes int       `json:"window_minutes"`
	GeneratedAt   time.Time `json:"generated_at"`

	TotalRequests int   `json:"total_requests"`
	TotalTokens   int64 `json:"total_tokens"`

	P50Latency time.Duration `json:"p50_latency"`
	P95Latency time.Duration `json:"p95_latency"`
	P99Latency time.Duration `json:"p99_latency"`
	MinLatency time.Duration `json:"min_latency"`
	AvgLatency time.Duration `json:"avg_latency"`
	MaxLatency time.Duration `json:"max_latency"`

	RequestsPerSecond float64 `json:"requests_per_second"`
	TokensPerSecond   float64 `json:"tokens_per_second"`

	ErrorRate   float64 `json:"error_rate"`
	SuccessRate float64 `json:"success_rate"`
	TimeoutRate float64 `json:"timeout_rate"`

	AvgCPUPercent   float64 `json:"avg_cpu_percent"`
	AvgMemoryMB     float64 `json:"avg_memory_mb"`
	AvgGPUPercent   float64 `json:"avg_gpu_percent"`
	AvgGPUMemoryMB  float64 `json:"avg_gpu_memory_mb"`
	AvgCacheHitRate float64 `json:"avg_cache_hit_rate"`

	AvgProcessingSpeed float64 `json:"avg_processing_speed"`
	AvgAccuracyScore   float64 `json:"avg_accuracy_score"`

	EstimatedCost float64 `json:"estimated_cost"`
}
