package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"photomaker/core"
	"photomaker/db"
	"photomaker/faceid"
	"photomaker/imagegen"
	"photomaker/logging"
	"photomaker/metrics"
	"photomaker/sdruntime"
	"photomaker/styles"
	"photomaker/watermark"

	"go.uber.org/zap"
)

// stdout receives user-facing command output. Tests replace it.
var stdout io.Writer = os.Stdout

// Globals are the flags shared by every command.
type Globals struct {
	EnvFile  string `name:"env-file" placeholder:"PATH" help:"Load environment variables from this file instead of .env"`
	LogLevel string `name:"log-level" enum:",debug,info,warn,error" default:"" help:"Override LOG_LEVEL"`
	Dev      bool   `help:"Development mode: coloured console logs at debug level"`
}

// load reads the configuration and builds the logger.
func (g *Globals) load() (*core.Config, *logging.Logger, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if g.Dev {
		cfg.DevMode = true
	}

	logger, err := logging.NewLogger(logging.Options{
		Level:       cfg.LogLevel,
		LogFile:     cfg.LogFile,
		Development: cfg.DevMode,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// app holds the long-lived components built from a Config.
type app struct {
	cfg    *core.Config
	logger *logging.Logger

	styles   *styles.Registry
	pipeline *sdruntime.PipelineClient
	pool     *sdruntime.SlotPool
	faces    *faceid.Client
	runner   *imagegen.Runner
	metrics  *metrics.Collector

	// nil when DATABASE_PATH is empty
	database *db.Database
	repo     *db.Repository
	writer   *db.AsyncWriter

	closeOnce sync.Once
}

// newApp wires the workers, the generation driver and the history store.
// out receives the "Saved: <file>" lines of every run.
func newApp(cfg *core.Config, logger *logging.Logger, out io.Writer) (*app, error) {
	reg, err := styles.Load(cfg.StylesFile)
	if err != nil {
		return nil, err
	}
	tokenizer, err := sdruntime.NewTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, styles: reg}
	a.pipeline = sdruntime.NewPipelineClient(sdruntime.PipelineConfig{
		BaseURL:      cfg.PipelineURL,
		APIKey:       cfg.PipelineAPIKey,
		Timeout:      cfg.WorkerTimeout,
		TriggerWord:  cfg.TriggerWord,
		MaxInputEdge: cfg.MaxInputImageSz,
	})
	if a.pool, err = sdruntime.NewSlotPool(a.pipeline, cfg.MaxConcurrent); err != nil {
		return nil, err
	}
	a.faces = faceid.NewClient(faceid.Config{
		BaseURL: cfg.FaceURL,
		APIKey:  cfg.FaceAPIKey,
		Timeout: cfg.WorkerTimeout,
		MaxEdge: cfg.MaxInputImageSz,
		Retries: 2,
	})

	driver, err := imagegen.NewDriver(imagegen.DriverConfig{
		Pipeline:     a.pool,
		Detector:     a.faces,
		Tokenizer:    tokenizer,
		Styles:       reg,
		Logger:       logger,
		MinFaceScore: cfg.FaceMinScore,
	})
	if err != nil {
		return nil, err
	}

	a.metrics = metrics.NewCollector(metrics.NewStore(metrics.StoreConfig{
		HistoryCapacity: 100,
		Version:         version,
	}, time.Now()))

	if cfg.DatabasePath != "" {
		if err := a.openHistory(); err != nil {
			a.close()
			return nil, err
		}
	}

	stamper := watermark.New(watermark.Options{
		Text:     cfg.WatermarkText,
		Opacity:  cfg.WatermarkOpacity,
		FontPath: cfg.FontPath,
	})
	logger.Debug("Watermark font resolved", zap.String("source", stamper.FontSource()))

	runnerCfg := imagegen.RunnerConfig{
		Driver:    driver,
		Stamper:   stamper,
		OutputDir: cfg.OutputDir,
		Metrics:   a.metrics,
		Logger:    logger,
		Out:       out,
	}
	if a.repo != nil {
		runnerCfg.History = a.repo
	}
	if a.runner, err = imagegen.NewRunner(runnerCfg); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openHistory() error {
	d, err := db.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.database = d

	// The write handler only needs the database, so it is bound to a
	// repository without a writer.
	handler := db.NewRepository(d, nil).AsyncWriteHandler()
	a.writer = db.NewAsyncWriter(handler, func(err error) {
		a.logger.Warn("Async history write failed", zap.Error(err))
	})
	a.writer.Start()
	a.repo = db.NewRepository(d, a.writer)
	return nil
}

// close releases everything newApp opened. serve registers the same steps
// with the shutdown manager instead.
func (a *app) close() {
	a.closeOnce.Do(func() {
		if a.writer != nil && !a.writer.Stop(5*time.Second) {
			a.logger.Warn("History writes still pending at exit", zap.Int("pending", a.writer.Pending()))
		}
		if a.database != nil {
			if err := a.database.Close(); err != nil {
				a.logger.Warn("Failed to close database", zap.Error(err))
			}
		}
		if a.pool != nil {
			a.pool.Close()
		}
	})
}

// checkWorkers checks both workers once.
func (a *app) checkWorkers(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.pipeline.Health(ctx); err != nil {
		return core.ErrWorkerUnreachable("pipeline", a.cfg.PipelineURL, err.Error())
	}
	if err := a.faces.Health(ctx); err != nil {
		return core.ErrWorkerUnreachable("face", a.cfg.FaceURL, err.Error())
	}
	return nil
}

// request builds a generation request from the configuration.
func (a *app) request(inputs []string) imagegen.Request {
	c := a.cfg
	req := imagegen.Request{
		InputImages:        inputs,
		LeftPrompts:        c.PromptsFaceLeft,
		RightPrompts:       c.PromptsFaceRight,
		StyleName:          c.StyleName,
		NegativePrompt:     c.NegativePrompt,
		Seed:               c.Seed,
		NumOutputs:         c.NumOutputs,
		Width:              c.OutputWidth,
		Height:             c.OutputHeight,
		Steps:              c.NumSteps,
		GuidanceScale:      c.GuidanceScale,
		StyleStrengthRatio: c.StyleStrengthRatio,
	}
	if c.UseSketch {
		req.SketchImage = c.SketchImagePath
	}
	return req
}
