package metrics

import (
	"sort"
	"sync"
	"time"
)

// Store keeps run statistics and worker health in memory. It is safe for
// concurrent use.
type Store struct {
	mu sync.RWMutex

	// ring buffer of recent runs
	runs    []RunRecord
	runHead int
	runSize int

	totalRuns     int64
	totalSuccess  int64
	totalErrors   int64
	totalImages   int64
	totalDuration time.Duration

	workers map[string]WorkerStatus

	startTime time.Time
	version   string
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// HistoryCapacity is how many recent runs are retained
	HistoryCapacity int
	Version         string
}

// DefaultStoreConfig returns a 100 run history.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{HistoryCapacity: 100, Version: "dev"}
}

// NewStore returns an empty Store; uptime is measured from startTime.
func NewStore(config StoreConfig, startTime time.Time) *Store {
	capacity := config.HistoryCapacity
	if capacity < 1 {
		capacity = 100
	}
	return &Store{
		runs:      make([]RunRecord, capacity),
		workers:   make(map[string]WorkerStatus),
		startTime: startTime,
		version:   config.Version,
	}
}

// RecordRun adds a finished run.
func (s *Store) RecordRun(rec RunRecord) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[s.runHead] = rec
	s.runHead = (s.runHead + 1) % len(s.runs)
	if s.runSize < len(s.runs) {
		s.runSize++
	}

	s.totalRuns++
	switch rec.Status {
	case RunStatusSuccess:
		s.totalSuccess++
	case RunStatusError:
		s.totalErrors++
	}
	s.totalImages += int64(rec.Images)
	s.totalDuration += rec.Duration
}

// RunMetrics returns the aggregate statistics.
func (s *Store) RunMetrics() RunMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := RunMetrics{
		TotalRuns:    s.totalRuns,
		TotalSuccess: s.totalSuccess,
		TotalErrors:  s.totalErrors,
		TotalImages:  s.totalImages,
	}
	if s.totalRuns > 0 {
		m.SuccessRate = float64(s.totalSuccess) / float64(s.totalRuns) * 100
		m.AvgDuration = s.totalDuration / time.Duration(s.totalRuns)
	}
	return m
}

// RecentRuns returns up to limit runs, oldest first.
func (s *Store) RecentRuns(limit int) []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.runSize == 0 {
		return []RunRecord{}
	}
	if limit > s.runSize {
		limit = s.runSize
	}

	n := len(s.runs)
	out := make([]RunRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.runs[(s.runHead-limit+i+n)%n]
	}
	return out
}

// UpdateWorker stores the latest health check for a worker.
func (s *Store) UpdateWorker(status WorkerStatus) {
	if status.CheckedAt.IsZero() {
		status.CheckedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[status.Name] = status
}

// Workers returns the known worker statuses sorted by name.
func (s *Store) Workers() []WorkerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedWorkers()
}

func (s *Store) sortedWorkers() []WorkerStatus {
	out := make([]WorkerStatus, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SystemStatus reports "error" when any checked worker is unhealthy.
func (s *Store) SystemStatus() SystemStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health := SystemHealthRunning
	for _, w := range s.workers {
		if !w.Healthy {
			health = SystemHealthError
			break
		}
	}
	return SystemStatus{
		Health:    health,
		Version:   s.version,
		Uptime:    time.Since(s.startTime),
		LastCheck: time.Now(),
		Workers:   s.sortedWorkers(),
	}
}
