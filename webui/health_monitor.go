package webui

import (
	"context"
	"sync"
	"time"

	"photomaker/logging"
	"photomaker/metrics"

	"go.uber.org/zap"
)

// HealthChecker checks one worker. sdruntime.PipelineClient,
// sdruntime.SlotPool and faceid.Client implement it.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Worker names a checked worker.
type Worker struct {
	Name    string
	URL     string
	Checker HealthChecker
}

// WorkerRecorder receives check results. *metrics.Collector implements it.
type WorkerRecorder interface {
	RecordWorker(status metrics.WorkerStatus)
}

// HealthMonitor checks the inference workers periodically and records
// their state. Transitions are logged and passed to OnChange.
type HealthMonitor struct {
	workers  []Worker
	recorder WorkerRecorder
	interval time.Duration
	timeout  time.Duration
	onChange func(metrics.WorkerStatus)
	logger   *logging.Logger

	mu   sync.Mutex
	last map[string]bool
}

// HealthMonitorConfig holds check timing. Zero values select 30s and 5s.
type HealthMonitorConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	OnChange func(metrics.WorkerStatus)
}

func NewHealthMonitor(workers []Worker, recorder WorkerRecorder, config HealthMonitorConfig, logger *logging.Logger) *HealthMonitor {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HealthMonitor{
		workers:  workers,
		recorder: recorder,
		interval: config.Interval,
		timeout:  config.Timeout,
		onChange: config.OnChange,
		logger:   logger.Named("health"),
		last:     make(map[string]bool),
	}
}

// Run checks immediately and then every interval until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	m.CheckNow(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow checks every worker once, concurrently, and returns the results
// in worker order.
func (m *HealthMonitor) CheckNow(ctx context.Context) []metrics.WorkerStatus {
	results := make([]metrics.WorkerStatus, len(m.workers))
	var wg sync.WaitGroup
	for i, w := range m.workers {
		wg.Add(1)
		go func(i int, w Worker) {
			defer wg.Done()
			results[i] = m.check(ctx, w)
		}(i, w)
	}
	wg.Wait()
	return results
}

func (m *HealthMonitor) check(ctx context.Context, w Worker) metrics.WorkerStatus {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := w.Checker.Health(checkCtx)
	status := metrics.WorkerStatus{
		Name:      w.Name,
		URL:       w.URL,
		Healthy:   err == nil,
		CheckedAt: time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	if m.recorder != nil {
		m.recorder.RecordWorker(status)
	}

	m.mu.Lock()
	prev, seen := m.last[w.Name]
	m.last[w.Name] = status.Healthy
	m.mu.Unlock()

	if seen && prev == status.Healthy {
		return status
	}
	if status.Healthy {
		m.logger.Info("Worker healthy", zap.String("worker", w.Name), zap.String("url", w.URL))
	} else {
		m.logger.Warn("Worker unavailable", zap.String("worker", w.Name), zap.String("url", w.URL), zap.Error(err))
	}
	if m.onChange != nil {
		m.onChange(status)
	}
	return status
}
