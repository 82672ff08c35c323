package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/dojobs/internal/config"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func captureCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int {
		return runCLI(args)
	})
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "abcdef1234567890", "2026-01-02T03:04:05+02:00")

	code, stdout, _ := captureCLI(t, "version", "--json")
	if code != exitOK {
		t.Fatalf("exit code = %d", code)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("decode version JSON %q: %v", stdout, err)
	}
	if info.Version != "1.2.3" || info.Commit != "abcdef1234567890" {
		t.Fatalf("unexpected version info: %+v", info)
	}
	if info.BuildTime != "2026-01-02T01:04:05Z" {
		t.Fatalf("build time not normalized to UTC: %q", info.BuildTime)
	}
}

func TestRunVersionText(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "abc", "unknown")

	code, stdout, _ := captureCLI(t, "version")
	if code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(stdout, "dojobs 1.2.3 (commit abc, built ") {
		t.Fatalf("unexpected version output %q", stdout)
	}
}

func TestShortenCommitAndBuildTime(t *testing.T) {
	if got := shortenCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("shortenCommit = %q", got)
	}
	if got := shortenCommit("abc"); got != "abc" {
		t.Fatalf("shortenCommit = %q", got)
	}
	if got := normalizeBuildTimeUTC(" "); got != "unknown" {
		t.Fatalf("normalizeBuildTimeUTC blank = %q", got)
	}
	if got := normalizeBuildTimeUTC("yesterday"); got != "yesterday" {
		t.Fatalf("normalizeBuildTimeUTC passthrough = %q", got)
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureCLI(t, "frobnicate")
	if code != exitSetup {
		t.Fatalf("exit code = %d, want %d", code, exitSetup)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestListArguments(t *testing.T) {
	code, stdout, _ := captureCLI(t, "--list-arguments")
	if code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	for _, want := range []string{"--jobfile", "--host", "--setup-pause", "--suppress-console"} {
		if !regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(want) + `$`).MatchString(stdout) {
			t.Fatalf("missing %s in:\n%s", want, stdout)
		}
	}
}

func TestHostFlags(t *testing.T) {
	var h hostFlags
	if err := h.Set("alice@build1 4"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := h.Set("local"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := h.Set("nodeA zero"); err == nil {
		t.Fatal("expected error for non-integer worker count")
	}
	if len(h) != 2 || h[0] != (config.HostSpec{Host: "alice@build1", Workers: 4}) || h[1].Workers != 0 {
		t.Fatalf("unexpected hosts %+v", h)
	}
	if got := h.String(); got != "alice@build1 4, local 0" {
		t.Fatalf("String = %q", got)
	}
}

func TestLoadRunConfigFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "dojobs.yaml", `
hosts:
  - local 3
  - nodeA 2
setup_pause: 0.5
timeout: 1m
print_mode: raw
`)

	fs, f := newRunFlagSet()
	err := fs.Parse([]string{"--config", cfgPath, "--host", "local 1", "--timeout", "2s", "--journal", "/tmp/j.db"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := loadRunConfig(fs, f)
	if err != nil {
		t.Fatalf("loadRunConfig: %v", err)
	}

	if len(cfg.Hosts) != 1 || cfg.Hosts[0] != (config.HostSpec{Host: "local", Workers: 1}) {
		t.Fatalf("hosts not replaced by flag: %+v", cfg.Hosts)
	}
	if cfg.Timeout.Std() != 2*time.Second {
		t.Fatalf("timeout = %v", cfg.Timeout)
	}
	if cfg.SetupPause.Std() != 500*time.Millisecond {
		t.Fatalf("setup pause from file lost: %v", cfg.SetupPause)
	}
	if cfg.PrintMode != "raw" {
		t.Fatalf("print mode from file lost: %q", cfg.PrintMode)
	}
	if cfg.Journal.Path != "/tmp/j.db" {
		t.Fatalf("journal = %q", cfg.Journal.Path)
	}
}

func TestLoadRunConfigRejectsBadPrintMode(t *testing.T) {
	fs, f := newRunFlagSet()
	if err := fs.Parse([]string{"--print-mode", "loud"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := loadRunConfig(fs, f); err == nil {
		t.Fatal("expected invalid print mode error")
	}
}

func TestRunRequiresJobfile(t *testing.T) {
	code, _, stderr := captureCLI(t, "run", "--host", "local 1")
	if code != exitSetup {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "--jobfile is required") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestRunRejectsBadHostSpec(t *testing.T) {
	code, _, stderr := captureCLI(t, "run", "-j", "jobs.txt", "--host", "nodeA -1")
	if code != exitSetup {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "non-positive") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestRunAllJobsSucceed(t *testing.T) {
	dir := t.TempDir()
	jobs := writeFile(t, dir, "jobs.txt", "# build steps\ntrue\n\necho hello world\n")

	code, stdout, _ := captureCLI(t, "run", "-j", jobs, "--host", "local 2", "--log-level", "error")
	if code != exitOK {
		t.Fatalf("exit code = %d\n%s", code, stdout)
	}
	for _, want := range []string{
		"[0] Job:         true",
		"[1] Job:         echo hello world",
		"[1]     hello world",
		"Summary: 2/2 jobs reported, 2 succeeded",
	} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("report missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunFailedJobExitCode(t *testing.T) {
	dir := t.TempDir()
	jobs := writeFile(t, dir, "jobs.txt", "true\nfalse\n/definitely/not/here\n")

	code, stdout, _ := captureCLI(t, "run", "-j", jobs, "--host", "local 1", "--format", "json", "--log-level", "error")
	if code != exitJobsFailed {
		t.Fatalf("exit code = %d, want %d\n%s", code, exitJobsFailed, stdout)
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 3 records and a summary, got %d:\n%s", len(lines), stdout)
	}
	var summary map[string]any
	if err := json.Unmarshal([]byte(lines[3]), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["type"] != "summary" || summary["ok"] != false {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestRunJournalThenInspect(t *testing.T) {
	dir := t.TempDir()
	jobs := writeFile(t, dir, "jobs.txt", "echo one\necho two\n")
	journalPath := filepath.Join(dir, "state", "journal.db")

	code, _, stderr := captureCLI(t, "run", "-j", jobs, "--host", "local 2", "--journal", journalPath, "--suppress-console", "--log-level", "error")
	if code != exitOK {
		t.Fatalf("run exit code = %d: %s", code, stderr)
	}

	code, stdout, stderr := captureCLI(t, "inspect", "--journal", journalPath)
	if code != exitOK {
		t.Fatalf("inspect exit code = %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "succeeded") {
		t.Fatalf("run list missing status:\n%s", stdout)
	}

	runID := strings.Fields(strings.Split(stdout, "\n")[1])[0]
	code, stdout, stderr = captureCLI(t, "inspect", "--journal", journalPath, "--run", runID[:8])
	if code != exitOK {
		t.Fatalf("inspect run exit code = %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Run ID      : "+runID) || !strings.Contains(stdout, "two") {
		t.Fatalf("unexpected run report:\n%s", stdout)
	}
}

func TestRunLockHeld(t *testing.T) {
	dir := t.TempDir()
	jobs := writeFile(t, dir, "jobs.txt", "true\n")
	lockPath := filepath.Join(dir, "dojobs.lock")

	code, _, _ := captureCLI(t, "run", "-j", jobs, "--host", "local 1", "--lock", lockPath, "--log-level", "error")
	if code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("lock file not created: %v", err)
	}
}

func TestInspectMissingJournal(t *testing.T) {
	code, _, stderr := captureCLI(t, "inspect", "--journal", filepath.Join(t.TempDir(), "none.db"))
	if code != exitSetup {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "Journal not found") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestCheckReportsMissingExecutable(t *testing.T) {
	dir := t.TempDir()
	jobs := writeFile(t, dir, "jobs.txt", "true\n/definitely/not/here --flag\n")

	code, stdout, _ := captureCLI(t, "check", "--jobfile", jobs, "--host", "local 1")
	if code != exitJobsFailed {
		t.Fatalf("exit code = %d\n%s", code, stdout)
	}
	if !strings.Contains(stdout, `ERROR [jobs] jobs[1]: executable "/definitely/not/here" not found`) {
		t.Fatalf("unexpected output:\n%s", stdout)
	}
}

func TestCheckValid(t *testing.T) {
	dir := t.TempDir()
	jobs := writeFile(t, dir, "jobs.txt", "true\n")

	code, stdout, _ := captureCLI(t, "check", "--jobfile", jobs, "--host", "local 1", "--json")
	if code != exitOK {
		t.Fatalf("exit code = %d\n%s", code, stdout)
	}
	if !strings.Contains(stdout, `"valid": true`) {
		t.Fatalf("unexpected output:\n%s", stdout)
	}
}

func TestSyncRequiresHost(t *testing.T) {
	code, _, stderr := captureCLI(t, "sync", "--src", "a", "--dst", "b")
	if code != exitSetup {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "--host is required") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestSyncRequiresSourceAndDestination(t *testing.T) {
	code, _, stderr := captureCLI(t, "sync", "--host", "nodeA")
	if code != exitSetup {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr, "source and a destination") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}
