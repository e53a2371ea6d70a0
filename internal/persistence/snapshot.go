// Package persistence writes periodic JSON snapshots of the metric
// store and restores them on startup.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/logging"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/metrics"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/pkg/types"
)

// DefaultInterval is the period between automatic snapshots.
const DefaultInterval = 5 * time.Minute

// SnapshotVersion identifies the on-disk document layout.
const SnapshotVersion = "1.0"

// Snapshot is the persisted document. Sections are decoded
// independently so a corrupt section costs only its own data.
type Snapshot struct {
	Version       string                          `json:"version"`
	ID            string                          `json:"id"`
	CreatedAt     time.Time                       `json:"created_at"`
	Samples       map[string][]types.MetricSample `json:"samples"`
	SystemSamples []types.SystemSample            `json:"system_samples"`
	ModelRecords  map[string]types.ModelRecord    `json:"model_records"`
}

// rawSnapshot defers section decoding so one bad section does not
// poison the rest of the document.
type rawSnapshot struct {
	Version       string          `json:"version"`
	ID            string          `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	Samples       json.RawMessage `json:"samples"`
	SystemSamples json.RawMessage `json:"system_samples"`
	ModelRecords  json.RawMessage `json:"model_records"`
}

// Manager owns the snapshot file for a single store.
type Manager struct {
	store    *metrics.Store
	path     string
	interval time.Duration
	logger   logging.Logger
}

// NewManager creates a snapshot manager writing to path every interval.
func NewManager(store *metrics.Store, path string, interval time.Duration, logger logging.Logger) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Manager{
		store:    store,
		path:     path,
		interval: interval,
		logger:   logger.WithComponent("persistence"),
	}
}

// Path returns the snapshot file location.
func (m *Manager) Path() string {
	return m.path
}

// Save writes the store's current contents to the snapshot file. The
// document goes to a temp file first and is renamed into place, so a
// crash mid-write never leaves a truncated snapshot behind.
func (m *Manager) Save() error {
	samples, systemSamples, modelRecords := m.store.Export()

	doc := Snapshot{
		Version:       SnapshotVersion,
		ID:            uuid.New().String(),
		CreatedAt:     time.Now().UTC(),
		Samples:       samples,
		SystemSamples: systemSamples,
		ModelRecords:  modelRecords,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	return nil
}

// Restore loads the snapshot file back into the store. A missing file
// is a clean start, not an error. Sections decode independently and a
// bad section is logged and skipped.
func (m *Manager) Restore() error {
	data, err := os.ReadFile(m.path) // #nosec G304 -- Path comes from configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Info("No snapshot file found, starting clean", "path", m.path)
			return nil
		}
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	restored := 0

	if len(raw.Samples) > 0 {
		var samples map[string][]types.MetricSample
		if err := json.Unmarshal(raw.Samples, &samples); err != nil {
			m.logger.Warn("Skipping corrupt samples section", "error", err.Error())
		} else {
			m.store.RestoreSamples(samples)
			restored += len(samples)
		}
	}

	if len(raw.SystemSamples) > 0 {
		var systemSamples []types.SystemSample
		if err := json.Unmarshal(raw.SystemSamples, &systemSamples); err != nil {
			m.logger.Warn("Skipping corrupt system samples section", "error", err.Error())
		} else {
			m.store.RestoreSystemSamples(systemSamples)
			restored += len(systemSamples)
		}
	}

	if len(raw.ModelRecords) > 0 {
		var modelRecords map[string]types.ModelRecord
		if err := json.Unmarshal(raw.ModelRecords, &modelRecords); err != nil {
			m.logger.Warn("Skipping corrupt model records section", "error", err.Error())
		} else {
			m.store.RestoreModelRecords(modelRecords)
			restored += len(modelRecords)
		}
	}

	m.logger.Info("Snapshot restored",
		"path", m.path,
		"version", raw.Version,
		"created_at", raw.CreatedAt.Format(time.RFC3339),
		"sections_restored", restored,
	)
	return nil
}

// Run saves a snapshot every interval until ctx is cancelled, then
// writes one final snapshot on the way out. Save failures are logged
// and never stop the loop.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("Snapshot loop started", "path", m.path, "interval", m.interval.String())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := m.Save(); err != nil {
				m.logger.Error("Final snapshot failed", "error", err.Error())
			}
			m.logger.Info("Snapshot loop stopped")
			return
		case <-ticker.C:
			if err := m.Save(); err != nil {
				m.logger.Error("Snapshot failed", "error", err.Error())
			}
		}
	}
}
