package metrics

import (
	"testing"
	"time"
)

func TestOperationTimerFinish(t *testing.T) {
	timer := NewOperationTimer("inference")
	time.Sleep(20 * time.Millisecond)

	sample := timer.Finish(200, 150, 50)

	if sample.Key != "inference" {
		t.Errorf("Expected key inference, got %s", sample.Key)
	}
	if sample.Duration < 20*time.Millisecond {
		t.Errorf("Expected at least 20ms elapsed, got %s", sample.Duration)
	}
	if sample.TotalTokens != 200 || sample.InputTokens != 150 || sample.OutputTokens != 50 {
		t.Error("Expected token counts to be carried through")
	}
	if sample.TokensPerSecond <= 0 {
		t.Errorf("Expected positive throughput, got %v", sample.TokensPerSecond)
	}

	expected := float64(200) / sample.Duration.Seconds()
	if diff := sample.TokensPerSecond - expected; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected %v tok/s, got %v", expected, sample.TokensPerSecond)
	}

	// Resource fields are left for the caller to enrich
	if sample.CPUPercent != 0 || sample.MemoryMB != 0 || sample.QueueWait != 0 {
		t.Error("Expected neutral resource fields on a fresh sample")
	}
	if sample.ErrorCount != 0 {
		t.Error("Expected zero error count on successful finish")
	}
}

func TestOperationTimerElapsedDoesNotFinish(t *testing.T) {
	timer := NewOperationTimer("scan")
	first := timer.Elapsed()
	time.Sleep(5 * time.Millisecond)
	second := timer.Elapsed()

	if second <= first {
		t.Error("Expected elapsed to keep growing before finish")
	}
}

func TestOperationTimerFinishWithError(t *testing.T) {
	timer := NewOperationTimer("scan")
	sample := timer.FinishWithError(0, 0, 0)

	if sample.ErrorCount != 1 {
		t.Errorf("Expected error count 1, got %d", sample.ErrorCount)
	}
	if sample.TokensPerSecond != 0 {
		t.Errorf("Expected zero throughput for zero tokens, got %v", sample.TokensPerSecond)
	}
}
