package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/mattjoyce/dojobs/internal/api"
	"github.com/mattjoyce/dojobs/internal/config"
	"github.com/mattjoyce/dojobs/internal/dispatch"
	"github.com/mattjoyce/dojobs/internal/events"
	"github.com/mattjoyce/dojobs/internal/execute"
	"github.com/mattjoyce/dojobs/internal/jobfile"
	"github.com/mattjoyce/dojobs/internal/journal"
	"github.com/mattjoyce/dojobs/internal/lock"
	"github.com/mattjoyce/dojobs/internal/log"
	"github.com/mattjoyce/dojobs/internal/report"
	"github.com/mattjoyce/dojobs/internal/throttle"
	"github.com/mattjoyce/dojobs/internal/tui/watch"
)

// hostFlags collects repeated --host values in order.
type hostFlags []config.HostSpec

func (h *hostFlags) String() string {
	if h == nil {
		return ""
	}
	parts := make([]string, 0, len(*h))
	for _, spec := range *h {
		parts = append(parts, spec.String())
	}
	return strings.Join(parts, ", ")
}

func (h *hostFlags) Set(s string) error {
	spec, err := config.ParseHostSpec(s)
	if err != nil {
		return err
	}
	*h = append(*h, spec)
	return nil
}

type runFlags struct {
	configPath      string
	jobfile         string
	hosts           hostFlags
	setupPause      config.Duration
	timeout         config.Duration
	printMode       string
	printPrefix     string
	showErrors      bool
	suppressConsole bool
	workDir         string
	format          string
	journal         string
	listen          string
	watch           bool
	lockPath        string
	logLevel        string
}

func newRunFlagSet() (*flag.FlagSet, *runFlags) {
	f := &runFlags{format: "text"}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "Path to YAML configuration file")
	fs.StringVar(&f.jobfile, "jobfile", "", "File with one job per line (- for stdin)")
	fs.StringVar(&f.jobfile, "j", "", "Shorthand for --jobfile")
	fs.Var(&f.hosts, "host", "Add workers on a host: '[USER@]HOST [WORKERS]' (repeatable)")
	fs.Var(&f.setupPause, "setup-pause", "Minimum spacing between job starts on one host")
	fs.Var(&f.timeout, "timeout", "Per-job time limit (0 = none)")
	fs.StringVar(&f.printMode, "print-mode", "", "Live output: auto, timestamp-prefix, prefix, raw, none")
	fs.StringVar(&f.printPrefix, "print-prefix", "", "Prefix for live output lines")
	fs.BoolVar(&f.showErrors, "show-errors", false, "Pass job stderr through")
	fs.BoolVar(&f.suppressConsole, "suppress-console", false, "Omit job output from the report")
	fs.StringVar(&f.workDir, "work-dir", "", "Working directory for local jobs")
	fs.StringVar(&f.format, "format", f.format, "Report format: text or json")
	fs.StringVar(&f.journal, "journal", "", "Record the run in this SQLite journal")
	fs.StringVar(&f.listen, "listen", "", "Serve run status on this address")
	fs.BoolVar(&f.watch, "watch", false, "Show a live terminal view of the run")
	fs.StringVar(&f.lockPath, "lock", "", "Refuse to start while another run holds this lock file")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	return fs, f
}

// loadRunConfig layers the flags that were set explicitly over the config
// file (or the defaults) and finalizes the result.
func loadRunConfig(fs *flag.FlagSet, f *runFlags) (*config.Config, error) {
	cfg := config.Defaults()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "host":
			cfg.Hosts = slices.Clone([]config.HostSpec(f.hosts))
		case "setup-pause":
			cfg.SetupPause = f.setupPause
		case "timeout":
			cfg.Timeout = f.timeout
		case "print-mode":
			cfg.PrintMode = f.printMode
		case "print-prefix":
			cfg.PrintPrefix = f.printPrefix
		case "show-errors":
			cfg.ShowErrors = f.showErrors
		case "suppress-console":
			cfg.SuppressConsole = f.suppressConsole
		case "work-dir":
			cfg.WorkDir = f.workDir
		case "journal":
			cfg.Journal.Path = f.journal
		case "listen":
			cfg.API.Listen = f.listen
		case "log-level":
			cfg.Log.Level = f.logLevel
		}
	})

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRun(args []string) int {
	fs, f := newRunFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitSetup
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return exitSetup
	}
	if f.jobfile == "" {
		fmt.Fprintln(os.Stderr, "Error: --jobfile is required")
		return exitSetup
	}
	if f.format != "text" && f.format != "json" {
		fmt.Fprintf(os.Stderr, "Error: --format must be text or json, got %q\n", f.format)
		return exitSetup
	}

	cfg, err := loadRunConfig(fs, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitSetup
	}

	// The live view owns the terminal; logs and the report wait for it.
	var logBuf, reportBuf lockedBuffer
	var logOut, reportOut io.Writer = os.Stderr, os.Stdout
	if f.watch {
		logOut, reportOut = &logBuf, &reportBuf
		defer func() {
			_, _ = io.Copy(os.Stdout, &reportBuf)
			_, _ = io.Copy(os.Stderr, &logBuf)
		}()
	}

	log.Setup(cfg.Log.Level, cfg.Log.Format, logOut)
	logger := log.WithComponent("main")

	if f.lockPath != "" {
		l, err := lock.Acquire(f.lockPath)
		if err != nil {
			logger.Error("failed to acquire run lock", "path", f.lockPath, "error", err)
			return exitSetup
		}
		defer l.Release()
	}

	jobs, err := jobfile.Load(f.jobfile)
	if err != nil {
		logger.Error("failed to read job file", "path", f.jobfile, "error", err)
		return exitSetup
	}

	mode, _ := cfg.Mode()
	if f.watch {
		mode = execute.PrintNone
	}

	hub := events.NewHub(1024)
	d, err := dispatch.New(
		execute.New(os.Stdout, os.Stderr),
		cfg.Transporter(),
		throttle.New(cfg.SetupPause.Std()),
		dispatch.Options{
			Timeout:    cfg.Timeout.Std(),
			WorkDir:    cfg.WorkDir,
			Mode:       mode,
			Prefix:     cfg.PrintPrefix,
			ShowErrors: cfg.ShowErrors,
		},
	)
	if err != nil {
		logger.Error("failed to create dispatcher", "error", err)
		return exitSetup
	}
	d.WithEvents(hub)

	color := !f.watch && isatty.IsTerminal(os.Stdout.Fd())
	sinks := report.Multi{newReportSink(f.format, reportOut, cfg.SuppressConsole, color)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var j *journal.Journal
	if cfg.Journal.Path != "" {
		j, err = journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			return exitSetup
		}
		defer j.Close()
		sinks = append(sinks, j.WithJobfile(f.jobfile))
	}

	if cfg.API.Listen != "" {
		srv := api.New(api.Config{Listen: cfg.API.Listen, Token: cfg.API.Token}, d, hub, log.WithComponent("api"))
		ln, err := srv.Listen()
		if err != nil {
			logger.Error("failed to start status server", "error", err)
			return exitSetup
		}
		apiCtx, cancelAPI := context.WithCancel(context.Background())
		apiDone := make(chan struct{})
		go func() {
			defer close(apiDone)
			if err := srv.Serve(apiCtx, ln); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			cancelAPI()
			<-apiDone
		}()
	}

	logger.Info("dojobs starting", "version", version, "jobs", len(jobs), "workers", config.TotalWorkers(cfg.Hosts))

	var summary dispatch.Summary
	if f.watch {
		summary, err = runWatched(ctx, d, jobs, cfg.Hosts, sinks, hub)
	} else {
		summary, err = d.Run(ctx, jobs, cfg.Hosts, sinks)
	}
	if summary.RunID != "" {
		sinks.Summarize(summary)
	}
	hub.Close()
	if n := hub.Dropped(); n > 0 {
		logger.Debug("slow subscribers missed events", "dropped", n)
	}
	if j != nil {
		if jerr := j.Err(); jerr != nil {
			logger.Warn("journal incomplete", "path", cfg.Journal.Path, "error", jerr)
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn("run interrupted", "reported", summary.Reported, "jobs", summary.Jobs)
		return exitJobsFailed
	case err != nil:
		logger.Error("run failed", "error", err)
		return exitSetup
	case !summary.OK():
		return exitJobsFailed
	default:
		return exitOK
	}
}

func newReportSink(format string, w io.Writer, suppressConsole, color bool) report.Sink {
	if format == "json" {
		return report.NewJSON(w, suppressConsole)
	}
	return report.NewText(w, suppressConsole).WithColor(color)
}

// runWatched runs the dispatcher in the background while the live view owns
// the terminal. Leaving the view early cancels the run.
func runWatched(ctx context.Context, d *dispatch.Dispatcher, jobs [][]string, hosts []config.HostSpec, reporter dispatch.Reporter, hub *events.Hub) (dispatch.Summary, error) {
	sub, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		summary dispatch.Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := d.Run(ctx, jobs, hosts, reporter)
		if err != nil {
			// No run.finished follows a failed setup; closing the stream ends the view.
			unsubscribe()
		}
		done <- outcome{summary: s, err: err}
	}()

	p := tea.NewProgram(*watch.New(sub), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		log.WithComponent("main").Warn("live view failed", "error", err)
	}
	cancel()

	res := <-done
	return res.summary, res.err
}

// lockedBuffer holds output produced while the live view is on screen.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Read(p)
}
