// Package metrics provides the bounded in-memory metric store, the
// operation timer, and windowed analytics for the performance tracking
// engine.
package metrics

import (
	"sync"
	"time"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/pkg/types"
)

const (
	// DefaultSampleCapacity bounds each per-key sample history.
	DefaultSampleCapacity = 1000
	// DefaultSystemCapacity bounds the system sample history.
	DefaultSystemCapacity = 500
)

// StoreConfig bounds the store's histories
type StoreConfig struct {
	SampleCapacity int `json:"sample_capacity"`
	SystemCapacity int `json:"system_capacity"`
}

// DefaultStoreConfig returns the default store bounds
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		SampleCapacity: DefaultSampleCapacity,
		SystemCapacity: DefaultSystemCapacity,
	}
}

// Store keeps bounded per-key histories of metric samples, a bounded
// history of system samples, and the latest model record per key.
// All reads return copies so analytics never run under the store lock.
type Store struct {
	config StoreConfig

	samples       map[string][]types.MetricSample
	systemSamples []types.SystemSample
	modelRecords  map[string]types.ModelRecord

	mu sync.RWMutex
}

// NewStore creates a metric store with the given bounds
func NewStore(config StoreConfig) *Store {
	if config.SampleCapacity <= 0 {
		config.SampleCapacity = DefaultSampleCapacity
	}
	if config.SystemCapacity <= 0 {
		config.SystemCapacity = DefaultSystemCapacity
	}
	return &Store{
		config:       config,
		samples:      make(map[string][]types.MetricSample),
		modelRecords: make(map[string]types.ModelRecord),
	}
}

// Record appends a sample to its key's history, evicting the oldest
// entry when the history is at capacity.
func (s *Store) Record(sample types.MetricSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.samples[sample.Key], sample)
	if len(history) > s.config.SampleCapacity {
		history = history[len(history)-s.config.SampleCapacity:]
	}
	s.samples[sample.Key] = history
}

// RecordSystemSample appends a host snapshot, evicting oldest-first.
func (s *Store) RecordSystemSample(sample types.SystemSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.systemSamples = append(s.systemSamples, sample)
	if len(s.systemSamples) > s.config.SystemCapacity {
		s.systemSamples = s.systemSamples[len(s.systemSamples)-s.config.SystemCapacity:]
	}
}

// RecordModelRecord replaces the record slot for the given key.
func (s *Store) RecordModelRecord(record types.ModelRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}
	s.modelRecords[record.Key] = record
}

// Latest returns the most recent sample for a key.
func (s *Store) Latest(key string) (types.MetricSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.samples[key]
	if len(history) == 0 {
		return types.MetricSample{}, false
	}
	return history[len(history)-1], true
}

// History returns a snapshot copy of a key's full history in insertion order.
func (s *Store) History(key string) []types.MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.samples[key]
	out := make([]types.MetricSample, len(history))
	copy(out, history)
	return out
}

// HistorySince returns a snapshot of a key's samples with timestamps at
// or after the cutoff.
func (s *Store) HistorySince(key string, cutoff time.Time) []types.MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.samples[key]
	out := make([]types.MetricSample, 0, len(history))
	for i := range history {
		if !history[i].Timestamp.Before(cutoff) {
			out = append(out, history[i])
		}
	}
	return out
}

// AllLatest returns the most recent sample for every tracked key.
func (s *Store) AllLatest() map[string]types.MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.MetricSample, len(s.samples))
	for key, history := range s.samples {
		if len(history) > 0 {
			out[key] = history[len(history)-1]
		}
	}
	return out
}

// Keys returns the tracked subject keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.samples))
	for key := range s.samples {
		keys = append(keys, key)
	}
	return keys
}

// LatestSystemSample returns the most recent host snapshot.
func (s *Store) LatestSystemSample() (types.SystemSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.systemSamples) == 0 {
		return types.SystemSample{}, false
	}
	return s.systemSamples[len(s.systemSamples)-1], true
}

// SystemHistory returns a snapshot copy of the system sample history.
func (s *Store) SystemHistory() []types.SystemSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.SystemSample, len(s.systemSamples))
	copy(out, s.systemSamples)
	return out
}

// ModelRecord returns the latest record for a key.
func (s *Store) ModelRecord(key string) (types.ModelRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.modelRecords[key]
	return record, ok
}

// ModelRecords returns a copy of the full model record map.
func (s *Store) ModelRecords() map[string]types.ModelRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.ModelRecord, len(s.modelRecords))
	for key, record := range s.modelRecords {
		out[key] = record
	}
	return out
}

// Export returns deep copies of all store contents for snapshotting.
// The copy is taken under the lock; serialization happens outside it.
func (s *Store) Export() (map[string][]types.MetricSample, []types.SystemSample, map[string]types.ModelRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := make(map[string][]types.MetricSample, len(s.samples))
	for key, history := range s.samples {
		cp := make([]types.MetricSample, len(history))
		copy(cp, history)
		samples[key] = cp
	}

	system := make([]types.SystemSample, len(s.systemSamples))
	copy(system, s.systemSamples)

	records := make(map[string]types.ModelRecord, len(s.modelRecords))
	for key, record := range s.modelRecords {
		records[key] = record
	}

	return samples, system, records
}

// RestoreSamples repopulates per-key histories, trimming each to capacity.
func (s *Store) RestoreSamples(samples map[string][]types.MetricSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, history := range samples {
		cp := make([]types.MetricSample, len(history))
		copy(cp, history)
		if len(cp) > s.config.SampleCapacity {
			cp = cp[len(cp)-s.config.SampleCapacity:]
		}
		s.samples[key] = cp
	}
}

// RestoreSystemSamples repopulates the system history, trimming to capacity.
func (s *Store) RestoreSystemSamples(samples []types.SystemSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]types.SystemSample, len(samples))
	copy(cp, samples)
	if len(cp) > s.config.SystemCapacity {
		cp = cp[len(cp)-s.config.SystemCapacity:]
	}
	s.systemSamples = cp
}

// RestoreModelRecords repopulates the model record map.
func (s *Store) RestoreModelRecords(records map[string]types.ModelRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, record := range records {
		s.modelRecords[key] = record
	}
}
