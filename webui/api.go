package webui

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"photomaker/db"
	"photomaker/metrics"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// InputResponse points at the image the next generation will use.
type InputResponse struct {
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
}

// DefaultsResponse prefills the form and galleries.
type DefaultsResponse struct {
	LeftPrompt  string   `json:"left_prompt"`
	RightPrompt string   `json:"right_prompt"`
	Seed        *int64   `json:"seed"`
	Style       string   `json:"style"`
	Left        []string `json:"left"`
	Right       []string `json:"right"`
}

type StylesResponse struct {
	Styles  []string `json:"styles"`
	Default string   `json:"default"`
}

// RunSummary is one row of the history view.
type RunSummary struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Seed         int64      `json:"seed"`
	Style        string     `json:"style"`
	LeftPrompts  []string   `json:"left_prompts"`
	RightPrompts []string   `json:"right_prompts"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Duration     string     `json:"duration,omitempty"`
	Images       int        `json:"images"`
	Outputs      []string   `json:"outputs,omitempty"`
}

type HistoryResponse struct {
	Runs []RunSummary `json:"runs"`
}

// HealthResponse combines worker checks with run statistics.
type HealthResponse struct {
	metrics.SystemStatus
	Runs              metrics.RunMetrics `json:"runs"`
	Busy              bool               `json:"busy"`
	Slots             *SlotUsage         `json:"pipeline_slots,omitempty"`
	ActiveGenerations int64              `json:"active_generations"`
	ShuttingDown      bool               `json:"shutting_down"`
}

// SlotUsage is the occupancy of the pipeline slot pool.
type SlotUsage struct {
	Size  int `json:"size"`
	InUse int `json:"in_use"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	input, err := FindInputImage(s.config.InputDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var resp InputResponse
	if input != "" {
		resp.Name = filepath.Base(input)
		resp.URL = imageURL(inputsPrefix, resp.Name)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDefaults(w http.ResponseWriter, r *http.Request) {
	left, right, err := s.galleries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	d := s.config.Defaults
	writeJSON(w, http.StatusOK, DefaultsResponse{
		LeftPrompt:  d.LeftPrompt,
		RightPrompt: d.RightPrompt,
		Seed:        d.Seed,
		Style:       d.StyleName,
		Left:        left,
		Right:       right,
	})
}

func (s *Server) handleStyles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StylesResponse{Styles: s.styles.Names(), Default: s.config.Defaults.StyleName})
}

// handleHistory serves GET /api/history?limit=n.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, HistoryResponse{Runs: []RunSummary{}})
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := HistoryResponse{Runs: make([]RunSummary, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, s.summarize(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHistoryRun serves GET /api/history/{id}.
func (s *Server) handleHistoryRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/history/")
	if s.history == nil || id == "" {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	run, err := s.history.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.summarize(*run))
}

func (s *Server) summarize(run db.Run) RunSummary {
	sum := RunSummary{
		ID:           run.ID,
		Status:       run.Status,
		Seed:         run.Seed,
		Style:        run.Style,
		LeftPrompts:  run.LeftPrompts,
		RightPrompts: run.RightPrompts,
		Error:        run.Error,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		Images:       run.OutputCount,
	}
	if run.FinishedAt != nil {
		sum.Duration = formatDuration(run.FinishedAt.Sub(run.StartedAt))
	}
	for _, out := range run.Outputs {
		if u := fileURL(outputsPrefix, s.generator.OutputDir(), out.Path); u != "" {
			sum.Outputs = append(sum.Outputs, u)
		}
	}
	return sum
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Busy: s.Busy()}
	if s.metrics != nil {
		resp.SystemStatus = s.metrics.Store().SystemStatus()
		resp.Runs = s.metrics.Store().RunMetrics()
	} else {
		resp.SystemStatus = metrics.SystemStatus{Health: metrics.SystemHealthRunning, Version: s.config.Version}
	}
	if s.slots != nil {
		resp.Slots = &SlotUsage{Size: s.slots.Size(), InUse: s.slots.InUse()}
	}
	if st, ok := s.tracker.(ShutdownState); ok {
		resp.ActiveGenerations = st.ActiveOperations()
		resp.ShuttingDown = st.IsShuttingDown()
	}

	status := http.StatusOK
	if resp.Health != metrics.SystemHealthRunning || resp.ShuttingDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// formatDuration renders run durations as 45s, 3m12s or 1h2m3s.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return strconv.Itoa(h) + "h" + strconv.Itoa(m) + "m" + strconv.Itoa(sec) + "s"
	}
	return strconv.Itoa(m) + "m" + strconv.Itoa(sec) + "s"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}
