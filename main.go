// Command photomaker generates identity-preserving portraits of the two
// people in a photograph, from the command line or a small web UI.
//
//	photomaker generate [--input photo.png] [--left prompt] [--right prompt] [--seed n]
//	photomaker serve
//	photomaker styles
//	photomaker history [--limit n] [--prune]
//	photomaker service install|uninstall|start|stop|restart|status|run
//
// Configuration comes from the environment, optionally loaded from a .env
// file first; flags override single values.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"photomaker/core"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
)

var version = "dev"

// CLI is the command tree.
type CLI struct {
	Globals `embed:""`

	Generate GenerateCmd `cmd:"" default:"withargs" help:"Generate the left and right images for the configured prompts (default)"`
	Serve    ServeCmd    `cmd:"" help:"Run the web UI"`
	Styles   StylesCmd   `cmd:"" help:"List the prompt styles"`
	History  HistoryCmd  `cmd:"" help:"Show or prune recorded runs"`
	Service  ServiceCmd  `cmd:"" help:"Install or control the web UI as a system service"`

	Version kong.VersionFlag `help:"Print the version and exit"`
}

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return core.ExitCodeName(e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	loadEnvFiles(args)

	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("photomaker"),
		kong.Description("PhotoMaker orchestration: identity-conditioned portrait generation."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return core.ExitCodeError
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%s", err)
		return core.ExitCodeUsage
	}

	err = ctx.Run(&cli.Globals)
	return exitCode(err)
}

// exitCode prints err and maps it to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return core.ExitCodeSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
	if core.IsConfigError(err) {
		return core.ExitCodeUsage
	}
	return core.ExitCodeError
}

// loadEnvFiles loads .env (or the file named by --env-file) before kong
// reads env-backed flags. A missing default file is not an error.
func loadEnvFiles(args []string) {
	path := ".env"
	explicit := false
	for i, a := range args {
		if a == "--env-file" && i+1 < len(args) {
			path, explicit = args[i+1], true
		} else if v, ok := strings.CutPrefix(a, "--env-file="); ok {
			path, explicit = v, true
		}
	}
	if err := godotenv.Load(path); err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
		color.New(color.FgYellow).Fprintf(os.Stderr, "Warning: could not load %s: %v\n", path, err)
	}
}
