// Command framepipe runs a single VIDEO or CAMERA inference pipeline
// session end to end: acquire frames, run them through a warmed model pool,
// render and display the results.
//
// This binary is a wiring/demo driver, not a CLI: configuration comes from
// ambient environment defaults (internal/pipeline/config.LoadAmbientDefaults)
// plus the values a real embedder would supply when constructing a
// FrameSource/Executor/Display set of their own. Argument parsing and
// subcommands are out of scope (spec.md section 1 Non-goals).
package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/framepipe/internal/demo"
	"github.com/hbomb79/framepipe/internal/pipeline"
	"github.com/hbomb79/framepipe/internal/pipeline/config"
	"github.com/hbomb79/framepipe/internal/pipeline/errs"
	"github.com/hbomb79/framepipe/internal/pipeline/executor"
	"github.com/hbomb79/framepipe/internal/pipeline/ptypes"
	"github.com/hbomb79/framepipe/pkg/logger"
)

var log = logger.Get("Bootstrap")

// Exit codes per spec.md section 6.
const (
	exitOK           = 0
	exitRuntimeError = 1
	exitConfigError  = 2
	exitUserQuit     = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	ambient := config.LoadAmbientDefaults()
	logger.SetMinLoggingLevel(parseLogLevel(ambient.LogLevel))

	mode := ptypes.PipelineMode(ambient.DefaultMode)
	cfg := config.DefaultsFor(mode, ambient.DefaultWorker, 0, 0)
	if err := cfg.Validate(); err != nil {
		log.Emit(logger.FATAL, "invalid configuration: %v\n", err)
		return exitConfigError
	}

	source, executors, disp, err := newDemoCollaborators(cfg)
	if err != nil {
		log.Emit(logger.FATAL, "failed to construct pipeline collaborators: %v\n", err)
		return exitConfigError
	}

	p, err := pipeline.New(cfg, source, executors, disp)
	if err != nil {
		if errors.Is(err, errs.ErrConfigInvalid) {
			log.Emit(logger.FATAL, "invalid configuration: %v\n", err)
			return exitConfigError
		}
		log.Emit(logger.FATAL, "failed to build pipeline: %v\n", err)
		return exitRuntimeError
	}

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt, syscall.SIGTERM)

	if err := p.Start(); err != nil {
		log.Emit(logger.FATAL, "failed to start pipeline: %v\n", err)
		return exitRuntimeError
	}

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	select {
	case <-interrupted:
		log.Emit(logger.STOP, "received interrupt, shutting down\n")
		p.Stop()
		<-done
		return exitUserQuit
	case err := <-done:
		if err != nil {
			log.Emit(logger.FATAL, "pipeline exited with error: %v\n", err)
			return exitRuntimeError
		}
		log.Emit(logger.STOP, "pipeline shutdown complete\n")
		return exitOK
	}
}

func parseLogLevel(l string) logger.LogLevel {
	switch l {
	case "VERBOSE":
		return logger.VERBOSE.Level()
	case "DEBUG":
		return logger.DEBUG.Level()
	case "WARNING":
		return logger.WARNING.Level()
	case "ERROR":
		return logger.ERROR.Level()
	default:
		return logger.INFO.Level()
	}
}

// newDemoCollaborators wires a synthetic FrameSource/Executor/Display set so
// this binary is runnable end to end without a real model, camera driver or
// display surface - none of which are in scope here (spec.md section 1
// Non-goals). A real embedder replaces these three with concrete
// implementations and calls pipeline.New directly; this demo harness exists
// purely so `go run .` demonstrates the wiring.
func newDemoCollaborators(cfg config.Config) (executor.FrameSource, []executor.Executor, executor.Display, error) {
	source := demo.NewSyntheticSource(200, cfg.TargetFPS)

	executors := make([]executor.Executor, cfg.MaxWorkers)
	for i := range executors {
		executors[i] = demo.NewNoopExecutor()
	}

	return source, executors, demo.NewLogDisplay(), nil
}
