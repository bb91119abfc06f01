package webui

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"photomaker/logging"
	"photomaker/metrics"
)

type switchChecker struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (c *switchChecker) Health(ctx context.Context) error {
	c.calls.Add(1)
	if c.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

type slowChecker struct{}

func (slowChecker) Health(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type workerLog struct {
	mu       sync.Mutex
	statuses []metrics.WorkerStatus
}

func (l *workerLog) RecordWorker(s metrics.WorkerStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
}

func (l *workerLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.statuses)
}

func TestHealthMonitor_CheckNow(t *testing.T) {
	pipeline := &switchChecker{}
	faces := &switchChecker{}
	faces.down.Store(true)
	rec := &workerLog{}

	m := NewHealthMonitor([]Worker{
		{Name: "pipeline", URL: "http://127.0.0.1:7861", Checker: pipeline},
		{Name: "faceid", URL: "http://127.0.0.1:7862", Checker: faces},
	}, rec, HealthMonitorConfig{}, logging.NewNop())

	got := m.CheckNow(context.Background())
	if len(got) != 2 {
		t.Fatalf("CheckNow() returned %d statuses, want 2", len(got))
	}
	if got[0].Name != "pipeline" || !got[0].Healthy {
		t.Errorf("pipeline = %+v, want healthy", got[0])
	}
	if got[1].Name != "faceid" || got[1].Healthy || got[1].Error != "connection refused" {
		t.Errorf("faceid = %+v, want unhealthy with error", got[1])
	}
	if rec.len() != 2 {
		t.Errorf("recorded %d statuses, want 2", rec.len())
	}
}

func TestHealthMonitor_OnChangeOnlyOnTransitions(t *testing.T) {
	checker := &switchChecker{}
	var changes []bool
	m := NewHealthMonitor([]Worker{{Name: "pipeline", Checker: checker}}, nil, HealthMonitorConfig{
		OnChange: func(s metrics.WorkerStatus) { changes = append(changes, s.Healthy) },
	}, nil)

	ctx := context.Background()
	m.CheckNow(ctx)
	m.CheckNow(ctx)
	checker.down.Store(true)
	m.CheckNow(ctx)
	m.CheckNow(ctx)
	checker.down.Store(false)
	m.CheckNow(ctx)

	want := []bool{true, false, true}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes = %v, want %v", changes, want)
			break
		}
	}
}

func TestHealthMonitor_Timeout(t *testing.T) {
	m := NewHealthMonitor([]Worker{{Name: "stuck", Checker: slowChecker{}}}, nil,
		HealthMonitorConfig{Timeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	got := m.CheckNow(context.Background())
	if time.Since(start) > 2*time.Second {
		t.Fatal("check did not time out")
	}
	if got[0].Healthy {
		t.Error("stuck worker reported healthy")
	}
}

func TestHealthMonitor_RunStopsOnCancel(t *testing.T) {
	checker := &switchChecker{}
	m := NewHealthMonitor([]Worker{{Name: "pipeline", Checker: checker}}, nil,
		HealthMonitorConfig{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for checker.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if checker.calls.Load() < 3 {
		t.Errorf("calls = %d, want periodic checks", checker.calls.Load())
	}
}
