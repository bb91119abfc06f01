package main

// service.go runs the web UI as a system service through
// github.com/kardianos/service (Windows service, systemd, launchd).
// The installed service executes "photomaker service run".

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kardianos/service"
)

// serviceStopTimeout bounds how long Stop waits for the web UI to drain.
const serviceStopTimeout = 90 * time.Second

// ServiceCmd installs and controls the service.
type ServiceCmd struct {
	Action string `arg:"" enum:"install,uninstall,start,stop,restart,status,run" help:"One of: install, uninstall, start, stop, restart, status, run"`
}

func (c *ServiceCmd) Run(g *Globals) error {
	prg := &program{globals: g}
	svc, err := service.New(prg, serviceConfig(g))
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	switch c.Action {
	case "run":
		return svc.Run()
	case "status":
		status, err := svc.Status()
		if err != nil {
			return fmt.Errorf("service status: %w", err)
		}
		fmt.Fprintf(stdout, "Service is %s\n", statusName(status))
		return nil
	}

	if err := service.Control(svc, c.Action); err != nil {
		return fmt.Errorf("service %s: %w", c.Action, err)
	}
	fmt.Fprintf(stdout, "Service %s: done\n", c.Action)
	return nil
}

// serviceConfig describes the installed service. The working directory is
// the current one so .env and the relative Data paths resolve as they do
// interactively.
func serviceConfig(g *Globals) *service.Config {
	args := []string{"service", "run"}
	if g.EnvFile != "" {
		path, err := filepath.Abs(g.EnvFile)
		if err != nil {
			path = g.EnvFile
		}
		args = append([]string{"--env-file", path}, args...)
	}
	if g.LogLevel != "" {
		args = append([]string{"--log-level", g.LogLevel}, args...)
	}

	wd, _ := os.Getwd()
	return &service.Config{
		Name:             "photomaker",
		DisplayName:      "PhotoMaker Web UI",
		Description:      "Identity-conditioned portrait generation web UI",
		Arguments:        args,
		WorkingDirectory: wd,
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}
}

func statusName(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	}
	return "in an unknown state"
}

// program adapts the web UI to service.Interface.
type program struct {
	globals *Globals
	srv     *webServer
	done    chan error
}

// Start must not block; the web UI runs on its own goroutine.
func (p *program) Start(s service.Service) error {
	cfg, logger, err := p.globals.load()
	if err != nil {
		return err
	}
	srv, err := newWebServer(cfg, logger)
	if err != nil {
		logger.Sync()
		return err
	}
	p.srv = srv
	p.done = make(chan error, 1)
	go func() { p.done <- srv.run() }()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.srv == nil {
		return nil
	}
	p.srv.stop()
	select {
	case err := <-p.done:
		return err
	case <-time.After(serviceStopTimeout):
		return errors.New("timeout waiting for the web UI to stop")
	}
}
