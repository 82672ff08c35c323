package dispatch

import (
	"runtime"
	"time"

	"github.com/mattjoyce/dojobs/internal/config"
	"github.com/mattjoyce/dojobs/internal/execute"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/dojobs/internal/dispatch CommandRunner

// CommandRunner executes one command. *execute.Runner implements it.
type CommandRunner interface {
	Run(argv []string, opts execute.Options) execute.Outcome
}

// Reporter consumes results as they arrive, once per job.
type Reporter interface {
	Report(Result)
}

// RunInfo describes a run whose workers are about to start.
type RunInfo struct {
	ID        string
	Jobs      int
	Hosts     []config.HostSpec
	StartedAt time.Time
}

// RunStarter is implemented by reporters that need the run identity before
// the first result arrives.
type RunStarter interface {
	StartRun(RunInfo)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Result)

func (f ReporterFunc) Report(r Result) { f(r) }

// Launcher starts the execution unit hosting one worker loop.
type Launcher interface {
	Launch(loop func())
}

// Goroutines runs each worker on its own goroutine.
type Goroutines struct{}

func (Goroutines) Launch(loop func()) { go loop() }

// OSThreads pins each worker to a dedicated OS thread for its lifetime.
type OSThreads struct{}

func (OSThreads) Launch(loop func()) {
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		loop()
	}()
}
