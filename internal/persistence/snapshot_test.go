package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/metrics"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/pkg/types"
)

func seededStore(t *testing.T) *metrics.Store {
	t.Helper()
	store := metrics.NewStore(metrics.DefaultStoreConfig())

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.Record(types.MetricSample{
			Key:         "inference",
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			Duration:    time.Duration(i+1) * 100 * time.Millisecond,
			TotalTokens: int64(100 * (i + 1)),
		})
	}
	store.RecordSystemSample(types.SystemSample{
		Timestamp:    base,
		CPUPercent:   42.5,
		MemoryUsedMB: 8192,
	})
	store.RecordModelRecord(types.ModelRecord{
		Key:         "llama-7b",
		LoadTime:    3 * time.Second,
		LoadSuccess: true,
	})
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "snapshot.json")

	src := seededStore(t)
	if err := NewManager(src, path, time.Minute, nil).Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := metrics.NewStore(metrics.DefaultStoreConfig())
	if err := NewManager(dst, path, time.Minute, nil).Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	history := dst.History("inference")
	if len(history) != 5 {
		t.Fatalf("restored %d samples, want 5", len(history))
	}
	if history[0].Duration != 100*time.Millisecond {
		t.Errorf("first sample duration = %v", history[0].Duration)
	}
	if history[4].TotalTokens != 500 {
		t.Errorf("last sample tokens = %d", history[4].TotalTokens)
	}

	sys, ok := dst.LatestSystemSample()
	if !ok {
		t.Fatal("no system sample restored")
	}
	if sys.CPUPercent != 42.5 {
		t.Errorf("system cpu = %v", sys.CPUPercent)
	}

	record, ok := dst.ModelRecord("llama-7b")
	if !ok {
		t.Fatal("no model record restored")
	}
	if !record.LoadSuccess || record.LoadTime != 3*time.Second {
		t.Errorf("model record = %+v", record)
	}
}

func TestRestoreMissingFileIsCleanStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	store := metrics.NewStore(metrics.DefaultStoreConfig())

	if err := NewManager(store, path, time.Minute, nil).Restore(); err != nil {
		t.Fatalf("restore of missing file: %v", err)
	}
	if keys := store.Keys(); len(keys) != 0 {
		t.Errorf("store not empty after clean start: %v", keys)
	}
}

func TestRestoreSkipsCorruptSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")

	doc := map[string]json.RawMessage{
		"version":        json.RawMessage(`"1.0"`),
		"samples":        json.RawMessage(`"not an object"`),
		"system_samples": json.RawMessage(`[{"timestamp":"2024-03-01T12:00:00Z","cpu_percent":33.0}]`),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	store := metrics.NewStore(metrics.DefaultStoreConfig())
	if err := NewManager(store, path, time.Minute, nil).Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if keys := store.Keys(); len(keys) != 0 {
		t.Errorf("corrupt samples section leaked data: %v", keys)
	}
	sys, ok := store.LatestSystemSample()
	if !ok {
		t.Fatal("intact system section was not restored")
	}
	if sys.CPUPercent != 33.0 {
		t.Errorf("system cpu = %v", sys.CPUPercent)
	}
}

func TestRestoreTrimsToCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")

	src := metrics.NewStore(metrics.StoreConfig{SampleCapacity: 50, SystemCapacity: 10})
	for i := 0; i < 50; i++ {
		src.Record(types.MetricSample{Key: "op", Duration: time.Duration(i) * time.Millisecond})
	}
	if err := NewManager(src, path, time.Minute, nil).Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := metrics.NewStore(metrics.StoreConfig{SampleCapacity: 10, SystemCapacity: 10})
	if err := NewManager(dst, path, time.Minute, nil).Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	history := dst.History("op")
	if len(history) != 10 {
		t.Fatalf("restored %d samples, want capacity 10", len(history))
	}
	// The newest samples survive the trim.
	if history[9].Duration != 49*time.Millisecond {
		t.Errorf("newest sample duration = %v", history[9].Duration)
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	store := seededStore(t)
	mgr := NewManager(store, path, time.Minute, nil)

	if err := mgr.Save(); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := mgr.Save(); err != nil {
		t.Fatalf("second save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc Snapshot
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if doc.Version != SnapshotVersion {
		t.Errorf("version = %q", doc.Version)
	}
	if doc.ID == "" {
		t.Error("snapshot has no id")
	}
}
