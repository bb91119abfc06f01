package webui

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"photomaker/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordedObservation struct {
	method, path string
}

type fakeObserver struct {
	mu  sync.Mutex
	obs []recordedObservation
}

func (o *fakeObserver) ObserveHTTP(method, path string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.obs = append(o.obs, recordedObservation{method, path})
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/api/generate", "/api/generate"},
		{"/api/history", "/api/history"},
		{"/api/history/abc-123", "/api/history/*"},
		{"/outputs/left_a_1_0.png", "/outputs/*"},
		{"/inputs/me.png", "/inputs/*"},
		{"/static/js/app.js", "/static/*"},
		{"/wp-admin.php", "other"},
	}
	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	obs := &fakeObserver{}
	mw := NewLoggingMiddleware(logging.NewFromZap(zap.New(core)), obs, "/health")

	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		case "/missing":
			http.NotFound(w, r)
		default:
			w.Write([]byte("ok"))
		}
	}))

	for _, p := range []string{"/", "/missing", "/boom", "/health"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	if len(obs.obs) != 4 {
		t.Fatalf("observations = %d, want 4 (skipped paths are still observed)", len(obs.obs))
	}
	if obs.obs[1].path != "other" {
		t.Errorf("unknown path label = %q, want other", obs.obs[1].path)
	}

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("log entries = %d, want 3", len(entries))
	}
	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Errorf("entry %d level = %v, want %v", i, e.Level, wantLevels[i])
		}
	}
	if got := entries[2].ContextMap()["status"]; got != int64(500) {
		t.Errorf("status field = %v, want 500", got)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, "9.9.9.9:1", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "3.3.3.3"}, "9.9.9.9:1", "3.3.3.3"},
		{"remote addr", nil, "9.9.9.9:1234", "9.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
