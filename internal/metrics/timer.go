package metrics

import (
	"time"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/pkg/types"
)

// OperationTimer measures the wall-clock duration of one expensive
// operation and produces a MetricSample on completion. Construction is
// two-phase: Finish returns a sample with resource, cache, and queue
// fields left at zero so callers can enrich it with readings taken at
// completion time before submitting it to the store.
type OperationTimer struct {
	key   string
	start time.Time
}

// NewOperationTimer starts a timer for the given subject key.
func NewOperationTimer(key string) *OperationTimer {
	return &OperationTimer{
		key:   key,
		start: time.Now(),
	}
}

// Key returns the subject key the timer was started for.
func (t *OperationTimer) Key() string {
	return t.key
}

// Elapsed returns the duration since the timer started without
// finishing it.
func (t *OperationTimer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Finish completes the timer and produces a sample with token counts
// and derived throughput.
func (t *OperationTimer) Finish(totalTokens, inputTokens, outputTokens int64) types.MetricSample {
	elapsed := time.Since(t.start)

	var tokensPerSecond float64
	if seconds := elapsed.Seconds(); seconds > 0 {
		tokensPerSecond = float64(totalTokens) / seconds
	}

	return types.MetricSample{
		Key:             t.key,
		Timestamp:       time.Now(),
		Duration:        elapsed,
		TotalTokens:     totalTokens,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		TokensPerSecond: tokensPerSecond,
	}
}

// FinishWithError completes the timer for a failed operation. The
// sample carries an error count of one and whatever tokens were
// produced before the failure.
func (t *OperationTimer) FinishWithError(totalTokens, inputTokens, outputTokens int64) types.MetricSample {
	sample := t.Finish(totalTokens, inputTokens, outputTokens)
	sample.ErrorCount = 1
	return sample
}
