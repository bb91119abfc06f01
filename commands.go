package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"photomaker/core"
	"photomaker/db"
	"photomaker/sdruntime"
	"photomaker/styles"
	"photomaker/webui"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// GenerateCmd runs one generation from the configuration and flags.
type GenerateCmd struct {
	Input   []string `short:"i" sep:"none" type:"existingfile" help:"Identity photograph; repeatable, faces are detected in the first (default INPUT_IMAGES, then the input directory)"`
	Left    []string `short:"l" sep:"none" help:"Prompt for the left face; repeatable (default PROMPTS_FACE_LEFT)"`
	Right   []string `short:"r" sep:"none" help:"Prompt for the right face; repeatable (default PROMPTS_FACE_RIGHT)"`
	Style   string   `short:"s" help:"Style template name (default STYLE_NAME)"`
	Seed    *int64   `help:"Seed shared by every image; omit for a random one"`
	Output  string   `short:"o" type:"path" help:"Output directory (default OUTPUT_DIR)"`
	NoCheck bool     `help:"Skip the worker health check"`
}

func (c *GenerateCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if c.Seed != nil && !core.ValidSeed(*c.Seed) {
		return core.ErrInvalidValue("--seed", strconv.FormatInt(*c.Seed, 10), fmt.Sprintf("must be from 0 to %d", core.MaxSeed))
	}
	c.apply(cfg)

	inputs := cfg.InputImages
	if len(inputs) == 0 {
		found, err := webui.FindInputImage(cfg.InputDir)
		if err != nil {
			return err
		}
		if found == "" {
			return core.ErrInputImageMissing()
		}
		inputs = []string{found}
	}

	a, err := newApp(cfg, logger, stdout)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, received, stop := withSignals(context.Background())
	defer stop()

	if !c.NoCheck {
		if err := a.checkWorkers(ctx); err != nil {
			return err
		}
	}

	bold := color.New(color.Bold)
	bold.Fprintln(stdout, strings.Repeat("=", 50))
	bold.Fprintln(stdout, "PhotoMaker CLI")
	bold.Fprintln(stdout, strings.Repeat("=", 50))
	fmt.Fprintf(stdout, "Input: %s\n", inputs[0])
	fmt.Fprintf(stdout, "\nSaving outputs to %s/\n", cfg.OutputDir)

	res, err := a.runner.Run(ctx, a.request(inputs))
	if err != nil {
		return generateExit(received(), err)
	}

	color.New(color.FgGreen).Fprintf(stdout, "\nDone! Generated images with seed %d\n", res.Seed)
	logger.Info("Generation finished",
		zap.String("run_id", res.RunID),
		zap.Int("images", len(res.Outputs)),
		zap.Duration("duration", res.Duration),
	)
	return nil
}

// apply overrides configuration values with the flags that were given.
func (c *GenerateCmd) apply(cfg *core.Config) {
	if len(c.Input) > 0 {
		cfg.InputImages = c.Input
	}
	if len(c.Left) > 0 {
		cfg.PromptsFaceLeft = c.Left
	}
	if len(c.Right) > 0 {
		cfg.PromptsFaceRight = c.Right
	}
	if c.Style != "" {
		cfg.StyleName = c.Style
	}
	if c.Seed != nil {
		cfg.Seed = c.Seed
	}
	if c.Output != "" {
		cfg.OutputDir = c.Output
	}
}

// withSignals returns a context cancelled by SIGINT or SIGTERM. received
// reports the signal that cancelled it, or nil.
func withSignals(parent context.Context) (ctx context.Context, received func() os.Signal, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	var (
		mu  sync.Mutex
		got os.Signal
	)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			mu.Lock()
			got = sig
			mu.Unlock()
			cancel()
		case <-done:
		}
	}()

	received = func() os.Signal {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
	var once sync.Once
	stop = func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
			cancel()
		})
	}
	return ctx, received, stop
}

// generateExit maps a failed run to its exit code: interrupted runs exit
// like the signal, rejected prompts and parameters as usage errors.
func generateExit(sig os.Signal, err error) error {
	if sig != nil {
		return &exitError{code: core.ExitCodeForSignal(sig), err: err}
	}
	var triggerErr *sdruntime.TriggerWordError
	if errors.As(err, &triggerErr) ||
		errors.Is(err, sdruntime.ErrInvalidPrompt) ||
		errors.Is(err, sdruntime.ErrInvalidParams) {
		return &exitError{code: core.ExitCodeUsage, err: err}
	}
	return err
}

// StylesCmd lists the style names.
type StylesCmd struct {
	File     string `help:"Styles YAML merged over the built-ins (default STYLES_FILE)" env:"STYLES_FILE"`
	Detailed bool   `short:"d" help:"Also print each template"`
}

func (c *StylesCmd) Run(g *Globals) error {
	reg, err := styles.Load(c.File)
	if err != nil {
		return err
	}
	highlight := color.New(color.FgCyan)
	for _, name := range reg.Names() {
		marker := "  "
		if name == styles.DefaultStyle {
			marker = "* "
		}
		highlight.Fprintf(stdout, "%s%s\n", marker, name)
		if c.Detailed {
			s, _ := reg.Get(name)
			fmt.Fprintf(stdout, "    prompt:   %s\n    negative: %s\n", s.Prompt, s.NegativePrompt)
		}
	}
	return nil
}

// HistoryCmd prints recent runs from the history database, or prunes it.
type HistoryCmd struct {
	Limit int  `short:"n" default:"20" help:"Number of runs to show"`
	Prune bool `help:"Delete runs older than HISTORY_RETENTION_DAYS (or --days) instead of listing"`
	Days  int  `help:"Retention for --prune; overrides HISTORY_RETENTION_DAYS"`
}

func (c *HistoryCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if cfg.DatabasePath == "" {
		return core.ErrMissingConfig("DATABASE_PATH")
	}

	d, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if c.Prune {
		days := cfg.HistoryRetentionDays
		if c.Days > 0 {
			days = c.Days
		}
		if days <= 0 {
			return core.ErrInvalidValue("HISTORY_RETENTION_DAYS", fmt.Sprint(days), "set a positive retention to prune")
		}
		res, err := d.Cleanup(ctx, days)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(stdout, "Removed %d runs and %d output records older than %d days\n",
			res.RunsDeleted, res.OutputsDeleted, days)
		return nil
	}

	runs, err := db.NewRepository(d, nil).ListRuns(ctx, c.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tID\tSTATUS\tSEED\tIMAGES\tSTYLE")
	for _, r := range runs {
		status := r.Status
		switch r.Status {
		case db.StatusSuccess:
			status = color.GreenString(status)
		case db.StatusError:
			status = color.RedString(status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.ID, status, r.Seed, r.OutputCount, r.Style)
	}
	return tw.Flush()
}
