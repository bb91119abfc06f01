package main

import (
	"errors"
	"io"
	"time"

	"photomaker/core"
	"photomaker/db"
	"photomaker/logging"
	"photomaker/shutdown"
	"photomaker/webui"
	"photomaker/webui/auth"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// ServeCmd runs the web UI until interrupted.
type ServeCmd struct {
	Host string `help:"Listen address (default HOST)"`
	Port int    `help:"Listen port (default PORT)"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}

	srv, err := newWebServer(cfg, logger)
	if err != nil {
		logger.Sync()
		return err
	}
	color.New(color.FgGreen).Fprintf(stdout, "PhotoMaker web UI on http://%s\n", srv.web.Addr())

	srv.mgr.Start()
	if err := srv.run(); err != nil {
		return err
	}
	if code := srv.mgr.ExitCode(); code != core.ExitCodeSuccess {
		return &exitError{code: code}
	}
	return nil
}

// webServer is the web UI with everything it depends on, torn down by a
// shutdown.Manager.
type webServer struct {
	app    *app
	web    *webui.Server
	mgr    *shutdown.Manager
	logger *logging.Logger
}

func newWebServer(cfg *core.Config, logger *logging.Logger) (*webServer, error) {
	a, err := newApp(cfg, logger, io.Discard)
	if err != nil {
		return nil, err
	}

	mgr := shutdown.NewManager(logger)
	deps := webui.Deps{
		Generator: a.runner,
		Styles:    a.styles,
		Metrics:   a.metrics,
		Tracker:   mgr,
		Slots:     a.pool,
		Logger:    logger,
		Workers: []webui.Worker{
			{Name: "pipeline", URL: cfg.PipelineURL, Checker: a.pipeline},
			{Name: "face", URL: cfg.FaceURL, Checker: a.faces},
		},
	}
	if a.repo != nil {
		deps.History = a.repo
	}
	if cfg.WebUIPassword != "" {
		ba, err := auth.NewBasicAuth(cfg.WebUIPassword, auth.Config{}, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		ba.Limiter().StartCleanup(mgr.Context(), time.Minute)
		deps.Auth = ba
	}

	web, err := webui.NewServer(webServerConfig(cfg), deps)
	if err != nil {
		a.close()
		return nil, err
	}

	mgr.Register("http-server", shutdown.PriorityHTTPServer, shutdown.HTTPServer(web.HTTPServer()))
	mgr.Register("pipeline", shutdown.PriorityPipeline, shutdown.Pipeline(a.pool))
	if a.writer != nil {
		mgr.Register("history-writer", shutdown.PriorityHistory, shutdown.AsyncWriter(a.writer, 10*time.Second))
	}
	if a.database != nil {
		mgr.Register("database", shutdown.PriorityDatabase, shutdown.Database(a.database))
	}
	mgr.Register("logger", shutdown.PriorityLogger, shutdown.Logger(logger))

	return &webServer{app: a, web: web, mgr: mgr, logger: logger}, nil
}

func webServerConfig(cfg *core.Config) webui.ServerConfig {
	sc := webui.DefaultServerConfig()
	sc.Host = cfg.Host
	sc.Port = cfg.Port
	sc.InputDir = cfg.InputDir
	sc.Version = version

	// a run can take several worker timeouts
	if wt := 2*cfg.WorkerTimeout + time.Minute; wt > sc.WriteTimeout {
		sc.WriteTimeout = wt
	}

	left, right := "", ""
	if len(cfg.PromptsFaceLeft) > 0 {
		left = cfg.PromptsFaceLeft[0]
	}
	if len(cfg.PromptsFaceRight) > 0 {
		right = cfg.PromptsFaceRight[0]
	}
	sc.Defaults = webui.Defaults{
		LeftPrompt:         left,
		RightPrompt:        right,
		Seed:               cfg.Seed,
		StyleName:          cfg.StyleName,
		NegativePrompt:     cfg.NegativePrompt,
		NumOutputs:         cfg.NumOutputs,
		Width:              cfg.OutputWidth,
		Height:             cfg.OutputHeight,
		Steps:              cfg.NumSteps,
		GuidanceScale:      cfg.GuidanceScale,
		StyleStrengthRatio: cfg.StyleStrengthRatio,
	}
	if cfg.UseSketch {
		sc.Defaults.SketchImage = cfg.SketchImagePath
	}
	return sc
}

// run serves until the manager's context ends or the listener fails, then
// shuts everything down.
func (s *webServer) run() error {
	ctx := s.mgr.Context()

	if days := s.app.cfg.HistoryRetentionDays; days > 0 && s.app.database != nil {
		s.app.database.StartCleanupScheduler(ctx, days, 24*time.Hour, func(res db.CleanupResult, err error) {
			if err != nil {
				s.logger.Warn("History cleanup failed", zap.Error(err))
				return
			}
			if res.RunsDeleted > 0 {
				s.logger.Info("History cleanup",
					zap.Int64("runs_deleted", res.RunsDeleted),
					zap.Int64("outputs_deleted", res.OutputsDeleted),
					zap.Duration("duration", res.Duration),
				)
			}
		})
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.web.Start(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = err
			s.logger.Error("Web UI stopped", zap.Error(err))
		}
	}

	if err := s.mgr.Shutdown(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// stop begins a graceful shutdown; run returns once it completes.
func (s *webServer) stop() {
	s.mgr.Trigger()
}
