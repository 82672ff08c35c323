// Package execute runs a single command as a subprocess and normalizes
// everything that can happen to it into an Outcome.
//
// The command is never passed through a shell. Stdout is read line by line
// while the process runs, so live printing works for long jobs. Stderr is
// discarded unless ShowErrors is set.
//
// Failure mapping:
//   - Executable or working directory missing → KindLaunchFailed, exit code 1
//   - Timeout → KindTimedOut, exit code 2, process group killed and reaped.
//     Run returns at the deadline even if a detached descendant still holds
//     stdout open.
//   - Anything else → KindCompleted with the process's own exit status
package execute

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"

	"github.com/mattjoyce/dojobs/internal/log"
)

// Options tune a single Run call.
type Options struct {
	// Dir overrides the working directory. Empty means inherit.
	Dir string
	// Timeout bounds the whole run. Zero means no limit.
	Timeout time.Duration
	Mode    PrintMode
	Prefix  string
	// ShowErrors inherits the runner's stderr instead of discarding it.
	ShowErrors bool
}

// Validate rejects option sets that indicate a configuration bug.
func (o Options) Validate() error {
	if !o.Mode.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownPrintMode, int(o.Mode))
	}
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", o.Timeout)
	}
	return nil
}

// Runner spawns commands. It is safe for concurrent use; live output from
// concurrent runs is interleaved line by line, never mid-line.
type Runner struct {
	// KillGrace is the time between SIGTERM and SIGKILL on timeout. Zero
	// kills immediately.
	KillGrace time.Duration

	stdout *lineSink
	stderr io.Writer
	now    func() time.Time
	logger *slog.Logger
}

// stderrDrainDelay is how long Wait keeps copying child stderr after the
// process has exited.
const stderrDrainDelay = time.Second

// New creates a Runner echoing live output to stdout and, with ShowErrors,
// child stderr to stderr. Nil writers default to the process's own streams.
func New(stdout, stderr io.Writer) *Runner {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Runner{
		stdout: &lineSink{w: stdout},
		stderr: stderr,
		now:    time.Now,
		logger: log.WithComponent("execute"),
	}
}

// Run executes argv and returns its Outcome. It never panics or returns an
// error for process-level failures.
func (r *Runner) Run(argv []string, opts Options) Outcome {
	if len(argv) == 0 {
		return launchFailed(errors.New("empty command"))
	}

	emit, err := newPrinter(opts.Mode, opts.Prefix, r.stdout, r.now)
	if err != nil {
		return launchFailed(err)
	}

	logger := r.logger.With("command", shellescape.QuoteCommand(argv))
	logger.Debug("executing", "dir", opts.Dir, "timeout", opts.Timeout)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if opts.ShowErrors {
		cmd.Stderr = r.stderr
	}
	// Bounds the stderr copy when a detached descendant keeps it open.
	cmd.WaitDelay = stderrDrainDelay
	configureCommandProcess(cmd)

	// The read end stays ours so a timeout can close it even while a
	// descendant outside the process group still holds the write end.
	pr, pw, err := os.Pipe()
	if err != nil {
		return launchFailed(fmt.Errorf("create stdout pipe: %w", err))
	}
	defer pr.Close()
	cmd.Stdout = pw

	err = cmd.Start()
	_ = pw.Close()
	if err != nil {
		logger.Debug("launch failed", "error", err)
		return launchFailed(fmt.Errorf("start process: %w", err))
	}

	guard := newProcessGuard(cmd)
	go guard.wait()

	read := make(chan []string, 1)
	go func() { read <- readLines(pr, emit) }()

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var lines []string
	exited, reading := guard.exited, read
	for exited != nil || reading != nil {
		select {
		case lines = <-reading:
			reading = nil
		case <-exited:
			exited = nil
		case <-deadline:
			deadline = nil
			guard.expire(r.KillGrace, logger)
			_ = pr.Close()
		}
	}

	if guard.expired() {
		logger.Warn("command timed out, process killed", "timeout", opts.Timeout)
		return timedOut()
	}

	waitErr := guard.err()
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return launchFailed(fmt.Errorf("wait for process: %w", waitErr))
		}
		code := exitStatus(exitErr.ProcessState)
		logger.Debug("command exited with non-zero status", "exit_code", code)
		return Outcome{Kind: KindCompleted, ExitCode: code, Lines: lines}
	}
	return Outcome{Kind: KindCompleted, ExitCode: 0, Lines: lines}
}

// readLines accumulates stdout lines as they arrive, echoing each one.
func readLines(r io.Reader, emit printer) []string {
	reader := bufio.NewReader(r)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			emit(line)
			lines = append(lines, strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"))
		}
		if err != nil {
			return lines
		}
	}
}

// processGuard serializes the timeout against reaping. A job counts as
// timed out only if its process was still there to receive the signal.
type processGuard struct {
	cmd    *exec.Cmd
	exited chan struct{}

	mu       sync.Mutex
	done     bool
	timedOut bool
	waitErr  error
}

func newProcessGuard(cmd *exec.Cmd) *processGuard {
	return &processGuard{cmd: cmd, exited: make(chan struct{})}
}

// wait reaps the process and records how it ended.
func (g *processGuard) wait() {
	err := g.cmd.Wait()
	g.mu.Lock()
	g.done = true
	g.waitErr = err
	g.mu.Unlock()
	close(g.exited)
}

func (g *processGuard) expire(grace time.Duration, logger *slog.Logger) {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	if grace > 0 {
		logger.Warn("command timed out, sending SIGTERM")
		g.timedOut = terminateCommandProcess(g.cmd)
	} else {
		g.timedOut = killCommandProcess(g.cmd)
	}
	timedOut := g.timedOut
	g.mu.Unlock()

	if !timedOut || grace == 0 {
		return
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-g.exited:
		return
	case <-t.C:
		logger.Warn("command did not exit after SIGTERM, sending SIGKILL")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.done {
		killCommandProcess(g.cmd)
	}
}

func (g *processGuard) expired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timedOut
}

func (g *processGuard) err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waitErr
}
