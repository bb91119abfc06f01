package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"photomaker/core"
	"photomaker/logging"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole shutdown sequence. A generation with the
// default 50 steps usually fits inside it.
const DefaultTimeout = 60 * time.Second

// Manager ties signal handling to the tracker and registry. The first
// SIGINT or SIGTERM cancels Context; a second one exits immediately.
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration
	exit    func(int)

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *Tracker
	registry *Registry

	mu       sync.Mutex
	started  bool
	done     bool
	signals  int
	received os.Signal
	sigChan  chan os.Signal
}

type Option func(*Manager)

func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithExit replaces os.Exit for the forced path.
func WithExit(exit func(int)) Option {
	return func(m *Manager) {
		m.exit = exit
	}
}

func NewManager(logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:   logger.Named("shutdown"),
		timeout:  DefaultTimeout,
		exit:     os.Exit,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewTracker(),
		registry: NewRegistry(),
		sigChan:  make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

func (m *Manager) Register(name string, priority int, fn Func) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("Registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority),
	)
}

// Start listens for SIGINT and SIGTERM. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	m.mu.Lock()
	m.signals++
	count := m.signals
	if count == 1 {
		m.received = sig
	}
	m.mu.Unlock()

	if count == 1 {
		m.logger.Info("Received shutdown signal, finishing in-flight work",
			zap.String("signal", sig.String()),
		)
		m.cancel()
		return
	}
	m.logger.Warn("Received second signal, forcing exit")
	_ = m.logger.Sync()
	m.exit(core.ExitCodeError)
}

// Signal returns the first signal received, or nil.
func (m *Manager) Signal() os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

// ExitCode maps the received signal to the process exit code.
func (m *Manager) ExitCode() int {
	sig := m.Signal()
	if sig == nil {
		return core.ExitCodeSuccess
	}
	return core.ExitCodeForSignal(sig)
}

// Trigger begins shutdown without a signal, e.g. when the server fails.
func (m *Manager) Trigger() {
	m.cancel()
}

// Track runs fn as in-flight work. After shutdown has begun it returns
// ErrTrackerClosed without calling fn.
func (m *Manager) Track(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.tracker.Start() {
		m.logger.Debug("Rejected work during shutdown", zap.String("operation", name))
		return ErrTrackerClosed
	}
	defer m.tracker.Done()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Shutdown stops accepting work, waits for in-flight work and then runs
// the registered handlers with whatever time remains (at least a second).
// Only the first call does anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	m.mu.Unlock()

	start := time.Now()
	m.cancel()
	m.tracker.Close()

	if active := m.tracker.Active(); active > 0 {
		m.logger.Info("Waiting for in-flight generations", zap.Int64("active", active))
	}
	if err := m.tracker.Wait(m.timeout); err != nil {
		m.logger.Warn("In-flight generations did not finish",
			zap.Duration("waited", time.Since(start)),
			zap.Int64("remaining", m.tracker.Active()),
		)
	}

	remaining := m.timeout - time.Since(start)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	m.logger.Info("Running shutdown handlers", zap.Strings("handlers", m.registry.Names()))
	errs := m.registry.Run(ctx)

	m.mu.Lock()
	if m.started {
		signal.Stop(m.sigChan)
		close(m.sigChan)
	}
	m.mu.Unlock()

	if len(errs) > 0 {
		for _, err := range errs {
			m.logger.Error("Shutdown handler failed", zap.Error(err))
		}
		return fmt.Errorf("shutdown: %d handler(s) failed: %w", len(errs), errs[0])
	}
	m.logger.Info("Shutdown complete", zap.Duration("duration", time.Since(start)))
	return nil
}

// ActiveOperations is the number of generations currently tracked.
func (m *Manager) ActiveOperations() int64 {
	return m.tracker.Active()
}

func (m *Manager) IsShuttingDown() bool {
	return m.tracker.IsClosed() || m.ctx.Err() != nil
}
