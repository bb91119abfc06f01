package sdruntime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newWorker(t *testing.T, handler http.HandlerFunc) *PipelineClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPipelineClient(PipelineConfig{
		BaseURL:     srv.URL,
		APIKey:      "worker-key",
		Timeout:     5 * time.Second,
		TriggerWord: "img",
	})
}

func TestPipelineClient_Generate(t *testing.T) {
	var got generateRequest
	var auth string

	params := validParams()
	params.Width, params.Height, params.NumImages = 128, 128, 2

	client := newWorker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/generate" {
			http.Error(w, "unexpected route", http.StatusNotFound)
			return
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		img := base64.StdEncoding.EncodeToString(pngBytes(t, 128, 128))
		_ = json.NewEncoder(w).Encode(generateResponse{Images: []string{img, img}})
	})

	if client.TriggerWord() != "img" {
		t.Errorf("TriggerWord() = %q", client.TriggerWord())
	}

	images, err := client.Generate(context.Background(), params)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("len(images) = %d, want 2", len(images))
	}

	if auth != "Bearer worker-key" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Prompt != params.Prompt || got.NegativePrompt != params.NegativePrompt {
		t.Errorf("prompts = %q / %q", got.Prompt, got.NegativePrompt)
	}
	if got.Seed != 42 || got.NumImagesPerPrompt != 2 || got.NumInferenceSteps != 50 || got.StartMergeStep != 10 {
		t.Errorf("sampling fields = %+v", got)
	}
	if len(got.IDEmbeds) != 3 || len(got.InputIDImages) != 1 {
		t.Errorf("identity fields: %d embeds, %d images", len(got.IDEmbeds), len(got.InputIDImages))
	}
}

func TestPipelineClient_Errors(t *testing.T) {
	params := validParams()
	params.Width, params.Height = 128, 128

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "worker error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(generateResponse{Error: "CUDA out of memory"})
			},
			wantErr: ErrGenerationFailed,
		},
		{
			name: "gateway timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusGatewayTimeout)
			},
			wantErr: ErrGenerationTimeout,
		},
		{
			name: "loading weights",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantErr: ErrWorkerUnavailable,
		},
		{
			name: "wrong image count",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(generateResponse{Images: []string{}})
			},
			wantErr: ErrGenerationFailed,
		},
		{
			name: "wrong image size",
			handler: func(w http.ResponseWriter, r *http.Request) {
				img := base64.StdEncoding.EncodeToString(pngBytes(t, 64, 64))
				_ = json.NewEncoder(w).Encode(generateResponse{Images: []string{img}})
			},
			wantErr: ErrImageSize,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			wantErr: ErrGenerationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newWorker(t, tt.handler)
			_, err := client.Generate(context.Background(), params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Generate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPipelineClient_InvalidParamsSkipNetwork(t *testing.T) {
	called := false
	client := newWorker(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	params := validParams()
	params.Prompt = ""
	if _, err := client.Generate(context.Background(), params); !errors.Is(err, ErrInvalidPrompt) {
		t.Errorf("Generate() error = %v", err)
	}
	if called {
		t.Error("worker called with invalid params")
	}
}

func TestPipelineClient_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	client := newWorker(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	params := validParams()
	params.Width, params.Height = 128, 128
	if _, err := client.Generate(ctx, params); !errors.Is(err, ErrGenerationTimeout) {
		t.Errorf("Generate() error = %v, want ErrGenerationTimeout", err)
	}
}

func TestPipelineClient_Health(t *testing.T) {
	healthy := newWorker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	if err := healthy.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}

	down := newWorker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if err := down.Health(context.Background()); !errors.Is(err, ErrWorkerUnavailable) {
		t.Errorf("Health() error = %v, want ErrWorkerUnavailable", err)
	}

	unreachable := NewPipelineClient(PipelineConfig{BaseURL: "http://127.0.0.1:1"})
	if err := unreachable.Health(context.Background()); !errors.Is(err, ErrWorkerUnavailable) {
		t.Errorf("Health() error = %v, want ErrWorkerUnavailable", err)
	}
}
