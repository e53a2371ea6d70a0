package types

import (
	"testing"
	"time"
)

func TestDefaultResourceThresholdsValid(t *testing.T) {
	thresholds := DefaultResourceThresholds()
	if err := thresholds.Validate(); err != nil {
		t.Fatalf("Expected default thresholds to validate, got %v", err)
	}
}

func TestThresholdValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ResourceThresholds)
	}{
		{"zero concurrency", func(tr *ResourceThresholds) { tr.MaxConcurrentOps = 0 }},
		{"zero cooldown", func(tr *ResourceThresholds) { tr.Cooldown = 0 }},
		{"critical cpu below max", func(tr *ResourceThresholds) { tr.CriticalCPUPercent = 70 }},
		{"critical memory below max", func(tr *ResourceThresholds) { tr.CriticalMemoryPercent = 50 }},
		{"negative free memory", func(tr *ResourceThresholds) { tr.MinFreeMemoryMB = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			thresholds := DefaultResourceThresholds()
			tc.mutate(&thresholds)
			if err := thresholds.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestThresholdsAdjustableCooldown(t *testing.T) {
	thresholds := DefaultResourceThresholds()
	thresholds.Cooldown = 5 * time.Minute
	if err := thresholds.Validate(); err != nil {
		t.Fatalf("Expected minute-scale cooldown to validate, got %v", err)
	}
}
