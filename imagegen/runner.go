package imagegen

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"photomaker/db"
	"photomaker/logging"
	"photomaker/sdruntime"
	"photomaker/watermark"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// History records runs. *db.Repository implements it.
type History interface {
	InsertRun(ctx context.Context, run *db.Run) error
	AddOutput(ctx context.Context, out *db.RunOutput) error
	FinishRun(ctx context.Context, id, status, errMsg string) error
}

// Metrics observes finished runs. *metrics.Collector implements it.
type Metrics interface {
	RecordRun(status string, duration time.Duration, images int)
}

// RunnerConfig holds the collaborators of a Runner. Only Driver is required.
type RunnerConfig struct {
	Driver    *Driver
	Stamper   *watermark.Stamper
	OutputDir string
	History   History
	Metrics   Metrics
	Logger    *logging.Logger
	Out       io.Writer // receives "Saved: <file>" lines; nil discards them
}

// RunResult describes a finished run.
type RunResult struct {
	RunID    string
	Seed     int64
	Faces    int
	Outputs  []Output
	Duration time.Duration
}

// Paths returns the written files for side in write order.
func (r *RunResult) Paths(side string) []string {
	var paths []string
	for _, o := range r.Outputs {
		if o.Side == side {
			paths = append(paths, o.Path)
		}
	}
	return paths
}

// Runner performs complete runs: generation, watermarking, saving,
// history and metrics.
type Runner struct {
	driver    *Driver
	stamper   *watermark.Stamper
	outputDir string
	history   History
	metrics   Metrics
	logger    *logging.Logger
	out       io.Writer
}

// NewRunner validates cfg and returns a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("imagegen: driver cannot be nil")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("imagegen: output dir cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return &Runner{
		driver:    cfg.Driver,
		stamper:   cfg.Stamper,
		outputDir: cfg.OutputDir,
		history:   cfg.History,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.Named("runner"),
		out:       cfg.Out,
	}, nil
}

// OutputDir is where generated images are written.
func (r *Runner) OutputDir() string {
	return r.outputDir
}

// Run generates and saves the images for req. The seed is resolved before
// generation so the history row carries it even when the run fails.
// History write failures are logged and do not fail the run.
func (r *Runner) Run(ctx context.Context, req Request) (*RunResult, error) {
	start := time.Now()
	runID := uuid.New().String()
	seed := sdruntime.ResolveSeed(req.Seed)
	req.Seed = &seed

	logger := r.logger.With(zap.String(logging.FieldRunID, runID), zap.Int64(logging.FieldSeed, seed))
	logger.Info("Run started",
		zap.Int("left_prompts", len(req.LeftPrompts)),
		zap.Int("right_prompts", len(req.RightPrompts)),
		zap.String(logging.FieldStyle, req.StyleName),
	)

	if r.history != nil {
		run := &db.Run{
			ID:           runID,
			Status:       db.StatusRunning,
			Seed:         seed,
			Style:        req.StyleName,
			LeftPrompts:  req.LeftPrompts,
			RightPrompts: req.RightPrompts,
			StartedAt:    start,
		}
		if len(req.InputImages) > 0 {
			run.InputImage = req.InputImages[0]
		}
		if err := r.history.InsertRun(ctx, run); err != nil {
			logger.Warn("Failed to record run", zap.Error(err))
		}
	}

	result, outputs, err := r.generate(ctx, req, runID, logger)
	duration := time.Since(start)

	if err != nil {
		logger.Error("Run failed", zap.Error(err), zap.Duration("duration", duration))
		r.finish(runID, db.StatusError, err.Error(), duration, len(outputs), logger)
		emit(req, Event{Stage: StageFailed, Seed: seed, Message: err.Error()})
		return nil, err
	}

	logger.Info("Run complete", zap.Int("images", len(outputs)), zap.Duration("duration", duration))
	r.finish(runID, db.StatusSuccess, "", duration, len(outputs), logger)
	emit(req, Event{Stage: StageDone, Seed: seed, Message: fmt.Sprintf("Generated %d image(s)", len(outputs))})

	return &RunResult{
		RunID:    runID,
		Seed:     seed,
		Faces:    result.Faces,
		Outputs:  outputs,
		Duration: duration,
	}, nil
}

func (r *Runner) generate(ctx context.Context, req Request, runID string, logger *logging.Logger) (*Result, []Output, error) {
	result, err := r.driver.Generate(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	outputs, err := WriteOutputs(r.outputDir, result.Left, result.Right, result.Seed, r.stamper)
	for _, o := range outputs {
		fmt.Fprintf(r.out, "Saved: %s\n", filepath.Base(o.Path))
		logger.Debug("Saved image", zap.String(logging.FieldFile, o.Path), zap.String(logging.FieldSide, o.Side))
		emit(req, Event{Stage: StageSaved, Side: o.Side, Prompt: o.Prompt, File: o.Path, Seed: result.Seed})

		if r.history != nil {
			rec := &db.RunOutput{RunID: runID, Side: o.Side, Prompt: o.Prompt, Index: o.Index, Path: o.Path}
			if herr := r.history.AddOutput(ctx, rec); herr != nil {
				logger.Warn("Failed to record output", zap.Error(herr))
			}
		}
	}
	return result, outputs, err
}

// finish uses a fresh context so a cancelled run is still recorded.
func (r *Runner) finish(runID, status, errMsg string, duration time.Duration, images int, logger *logging.Logger) {
	if r.metrics != nil {
		r.metrics.RecordRun(status, duration, images)
	}
	if r.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.history.FinishRun(ctx, runID, status, errMsg); err != nil {
		logger.Warn("Failed to finish run record", zap.Error(err))
	}
}
