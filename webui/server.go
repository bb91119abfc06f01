// Package webui serves the PhotoMaker page: upload a photograph, enter one
// prompt per face, and view the generated left and right galleries.
//
// server.go wires the routes:
//
//	/                 the page
//	/static/          embedded css and js
//	/outputs/         generated images
//	/inputs/          input photographs
//	/api/generate     POST, runs one generation
//	/api/input        current input image
//	/api/defaults     form defaults and current galleries
//	/api/styles       style names
//	/api/history      recent runs; /api/history/{id} for one run
//	/ws               progress events
//	/health, /metrics unauthenticated
package webui

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"photomaker/db"
	"photomaker/imagegen"
	"photomaker/logging"
	"photomaker/metrics"
	"photomaker/styles"

	"github.com/gorilla/schema"
	"go.uber.org/zap"
)

const (
	outputsPrefix = "/outputs/"
	inputsPrefix  = "/inputs/"
	staticPrefix  = "/static/"
)

// Generator runs generations. *imagegen.Runner implements it.
type Generator interface {
	Run(ctx context.Context, req imagegen.Request) (*imagegen.RunResult, error)
	OutputDir() string
}

// HistoryReader lists past runs. *db.Repository implements it.
type HistoryReader interface {
	ListRuns(ctx context.Context, limit int) ([]db.Run, error)
	GetRun(ctx context.Context, id string) (*db.Run, error)
}

// Tracker lets shutdown wait for a running generation.
// *shutdown.Manager implements it.
type Tracker interface {
	Track(ctx context.Context, name string, fn func(context.Context) error) error
}

// ShutdownState is optionally implemented by a Tracker; /health reports
// it when present.
type ShutdownState interface {
	ActiveOperations() int64
	IsShuttingDown() bool
}

// SlotStats reports pipeline slot usage. *sdruntime.SlotPool implements it.
type SlotStats interface {
	Size() int
	InUse() int
}

// AuthProvider guards every route except /health and /metrics.
// *auth.BasicAuth implements it.
type AuthProvider interface {
	Middleware(next http.Handler) http.Handler
}

// Defaults are the generation settings the page does not expose.
type Defaults struct {
	LeftPrompt         string
	RightPrompt        string
	Seed               *int64
	StyleName          string
	NegativePrompt     string
	NumOutputs         int
	Width              int
	Height             int
	Steps              int
	GuidanceScale      float64
	StyleStrengthRatio float64
	SketchImage        string
}

// ServerConfig configures the Server.
type ServerConfig struct {
	Host     string
	Port     int
	InputDir string
	Version  string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration // must cover a whole generation
	IdleTimeout  time.Duration

	MaxUploadBytes int64
	Defaults       Defaults
	Broadcaster    BroadcasterConfig
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           7860,
		InputDir:       "./Data/Input",
		Version:        "dev",
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   30 * time.Minute,
		IdleTimeout:    120 * time.Second,
		MaxUploadBytes: 32 << 20,
		Broadcaster:    DefaultBroadcasterConfig(),
	}
}

// Deps are the collaborators of the Server. Generator and Styles are
// required; the rest may be nil.
type Deps struct {
	Generator Generator
	Styles    *styles.Registry
	History   HistoryReader
	Metrics   *metrics.Collector
	Workers   []Worker
	Auth      AuthProvider
	Tracker   Tracker
	Slots     SlotStats
	Logger    *logging.Logger
}

// Server is the web UI. Only one generation runs at a time; concurrent
// POST /api/generate requests get 409.
type Server struct {
	config      ServerConfig
	generator   Generator
	styles      *styles.Registry
	history     HistoryReader
	metrics     *metrics.Collector
	auth        AuthProvider
	tracker     Tracker
	slots       SlotStats
	logger      *logging.Logger
	decoder     *schema.Decoder
	broadcaster *Broadcaster
	monitor     *HealthMonitor
	static      *StaticAssetHandler

	busy       sync.Mutex
	handler    http.Handler
	httpServer *http.Server
}

func NewServer(config ServerConfig, deps Deps) (*Server, error) {
	if deps.Generator == nil {
		return nil, errors.New("webui: generator is required")
	}
	if deps.Styles == nil {
		return nil, errors.New("webui: styles are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultServerConfig().MaxUploadBytes
	}
	if config.Broadcaster.PingInterval <= 0 {
		config.Broadcaster = DefaultBroadcasterConfig()
	}
	if config.Defaults.StyleName == "" {
		config.Defaults.StyleName = styles.DefaultStyle
	}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	s := &Server{
		config:    config,
		generator: deps.Generator,
		styles:    deps.Styles,
		history:   deps.History,
		metrics:   deps.Metrics,
		auth:      deps.Auth,
		tracker:   deps.Tracker,
		slots:     deps.Slots,
		logger:    deps.Logger.Named("webui"),
		decoder:   decoder,
		static:    NewStaticAssetHandler(staticPrefix, true),
	}
	s.broadcaster = NewBroadcaster(config.Broadcaster, s.initialMessage, deps.Logger)

	var recorder WorkerRecorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}
	s.monitor = NewHealthMonitor(deps.Workers, recorder, HealthMonitorConfig{
		OnChange: func(ws metrics.WorkerStatus) {
			if !ws.Healthy {
				s.broadcaster.Broadcast(NewErrorMessage(fmt.Sprintf("%s worker unavailable: %s", ws.Name, ws.Error)))
			}
		},
	}, deps.Logger)

	s.handler = s.routes()
	addr := net.JoinHostPort(config.Host, fmt.Sprint(config.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	s.logger.Info("Web UI configured",
		zap.String("addr", addr),
		zap.Bool("auth_enabled", deps.Auth != nil),
		zap.Int("workers", len(deps.Workers)),
	)
	return s, nil
}

func (s *Server) routes() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("/", s.static.ServeIndex)
	protected.Handle(staticPrefix, s.static)
	protected.Handle(outputsPrefix, NewDirImageHandler(s.generator.OutputDir(), outputsPrefix))
	protected.Handle(inputsPrefix, NewDirImageHandler(s.config.InputDir, inputsPrefix))
	protected.HandleFunc("/api/generate", s.handleGenerate)
	protected.HandleFunc("/api/input", s.handleInput)
	protected.HandleFunc("/api/defaults", s.handleDefaults)
	protected.HandleFunc("/api/styles", s.handleStyles)
	protected.HandleFunc("/api/history", s.handleHistory)
	protected.HandleFunc("/api/history/", s.handleHistoryRun)
	protected.HandleFunc("/ws", s.broadcaster.HandleConnection)

	var guarded http.Handler = protected
	if s.auth != nil {
		guarded = s.auth.Middleware(protected)
	}

	root := http.NewServeMux()
	root.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		root.Handle("/metrics", s.metrics.Handler())
	}
	root.Handle("/", guarded)

	var observer HTTPObserver
	if s.metrics != nil {
		observer = s.metrics
	}
	return NewLoggingMiddleware(s.logger, observer, "/health", "/metrics", "/ws").Handler(root)
}

// Handler is the complete handler chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HTTPServer is the underlying server, for registering with shutdown.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Busy reports whether a generation is running.
func (s *Server) Busy() bool {
	if s.busy.TryLock() {
		s.busy.Unlock()
		return false
	}
	return true
}

// Start runs the websocket hub and worker checks and serves until the
// server is shut down. It returns nil after a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("webui: listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.broadcaster.Run(ctx)
	go s.monitor.Run(ctx)

	s.logger.Info("Web UI listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webui: serve: %w", err)
	}
	return nil
}

func (s *Server) initialMessage() WSMessage {
	return NewWSMessage(MessageTypeInitial, InitialData{Busy: s.Busy(), Version: s.config.Version})
}
