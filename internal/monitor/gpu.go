package monitor

import (
	"context"
	"encoding/csv"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const nvidiaSMITimeout = 3 * time.Second

// NvidiaSMIProbe reads GPU state by shelling out to nvidia-smi. Hosts
// without the tool report no observable GPU rather than an error.
type NvidiaSMIProbe struct{}

// NewNvidiaSMIProbe creates an nvidia-smi backed GPU probe.
func NewNvidiaSMIProbe() *NvidiaSMIProbe {
	return &NvidiaSMIProbe{}
}

// Sample queries per-device utilization, memory, and temperature and
// aggregates them into a single reading.
func (p *NvidiaSMIProbe) Sample(ctx context.Context) (GPUStats, error) {
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return GPUStats{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, nvidiaSMITimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu,memory.total,memory.used,temperature.gpu",
		"--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return GPUStats{}, err
	}

	reader := csv.NewReader(strings.NewReader(string(out)))
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return GPUStats{}, err
	}

	stats := GPUStats{}
	var utilSum, tempSum float64
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		stats.Count++
		utilSum += parseFloatField(row[0])
		stats.MemoryTotalMB += parseFloatField(row[1])
		stats.MemoryUsedMB += parseFloatField(row[2])
		tempSum += parseFloatField(row[3])
	}
	if stats.Count > 0 {
		stats.UtilizationPercent = utilSum / float64(stats.Count)
		stats.TemperatureC = tempSum / float64(stats.Count)
	}

	return stats, nil
}

// parseFloatField tolerates the "[N/A]" placeholders nvidia-smi emits
// for unsupported readings.
func parseFloatField(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "[") {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
