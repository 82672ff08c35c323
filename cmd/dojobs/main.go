package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit statuses.
const (
	exitOK         = 0
	exitJobsFailed = 1
	exitSetup      = 2
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(args []string) int {
	if len(args) < 1 {
		printUsage()
		return exitSetup
	}

	switch args[0] {
	case "run":
		return runRun(args[1:])
	case "sync":
		return runSync(args[1:])
	case "inspect":
		return runInspect(args[1:])
	case "check":
		return runCheck(args[1:])
	case "version":
		return runVersion(args[1:])
	case "--list-arguments":
		return runListArguments()
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		return exitSetup
	}
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return exitSetup
	}

	info := currentVersionInfo()
	if *asJSON {
		data, err := json.Marshal(info)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode version: %v\n", err)
			return exitSetup
		}
		fmt.Println(string(data))
		return exitOK
	}

	fmt.Printf("dojobs %s (commit %s, built %s)\n", info.Version, info.Commit, info.BuildTime)
	return exitOK
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   version,
		Commit:    gitCommit,
		BuildTime: normalizeBuildTimeUTC(buildDate),
	}

	if info.Commit == "unknown" {
		if rev, ok := readBuildSetting("vcs.revision"); ok {
			info.Commit = shortenCommit(rev)
		}
	}
	if info.BuildTime == "unknown" {
		if t, ok := readBuildSetting("vcs.time"); ok {
			info.BuildTime = normalizeBuildTimeUTC(t)
		}
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func normalizeBuildTimeUTC(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "unknown" {
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.UTC().Format(time.RFC3339)
}

func readBuildSetting(key string) (string, bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range bi.Settings {
		if s.Key == key && s.Value != "" {
			return s.Value, true
		}
	}
	return "", false
}

// runListArguments prints every flag the run command accepts, one per line,
// for shell completion.
func runListArguments() int {
	fs, _ := newRunFlagSet()
	fs.VisitAll(func(f *flag.Flag) {
		fmt.Println("--" + f.Name)
	})
	return exitOK
}

func printUsage() {
	fmt.Fprint(os.Stderr, `dojobs - run jobs (remotely) in parallel

Usage:
  dojobs run --jobfile FILE [--host "[USER@]HOST [WORKERS]"]... [flags]
  dojobs check [--config FILE] [--jobfile FILE] [--host H]... [--json]
  dojobs sync --host HOST --src DIR --dst DIR [--config FILE]
  dojobs inspect --journal PATH [--run ID] [--limit N] [--json]
  dojobs version [--json]
  dojobs --list-arguments

A job is one line of the job file, split into words the way a shell would
but executed without one: redirection and pipes do not work. Blank lines
and lines starting with '#' are skipped. Use "-" to read jobs from stdin.

Hosts are given as '[user@]host [workers]'. Each adds 'workers' workers
bound to 'host'. Without a worker count, local hosts get one worker per CPU
and remote hosts get 10. Remote jobs run through 'ssh -o StrictHostKeyChecking no'.

Run flags:
  --config FILE          YAML configuration; flags override it
  --setup-pause D        minimum spacing between job starts on one host (500ms, 0.5)
  --timeout D            per-job time limit, 0 for none
  --print-mode M         auto, timestamp-prefix, prefix, raw or none
  --print-prefix P       prefix for live output (default "<slot>@<host>")
  --show-errors          pass job stderr through instead of discarding it
  --suppress-console     omit job output from the report
  --work-dir DIR         working directory for local jobs
  --format F             report format: text or json
  --journal PATH         record the run in a SQLite journal
  --listen ADDR          serve /healthz, /progress and /events on ADDR
  --watch                show a live terminal view of the run
  --lock PATH            refuse to start while another run holds PATH
  --log-level L          debug, info, warn or error

Exit status is 0 when every job exited 0, 1 when any job failed and 2 when
the run could not be set up.
`)
}
