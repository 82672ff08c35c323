package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/dojobs/internal/config"
	"github.com/mattjoyce/dojobs/internal/doctor"
	"github.com/mattjoyce/dojobs/internal/execute"
	"github.com/mattjoyce/dojobs/internal/inspect"
	"github.com/mattjoyce/dojobs/internal/jobfile"
	"github.com/mattjoyce/dojobs/internal/journal"
	"github.com/mattjoyce/dojobs/internal/log"
)

// loadConfigFile returns the config at path, or the defaults when path is
// empty. Defaults are applied but the result is not validated.
func loadConfigFile(path string) (*config.Config, error) {
	cfg := config.Defaults()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// runSync copies a directory to a host with rsync over the configured
// remote command, streaming its output.
func runSync(args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	host := fs.String("host", "", "Destination host ([USER@]HOST)")
	src := fs.String("src", "", "Source directory")
	dst := fs.String("dst", "", "Destination directory on the host")
	if err := fs.Parse(args); err != nil {
		return exitSetup
	}
	if *host == "" {
		fmt.Fprintln(os.Stderr, "Error: --host is required")
		return exitSetup
	}

	cfg, err := loadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitSetup
	}
	log.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logger := log.WithComponent("sync")

	argv, err := cfg.Transporter().SyncCommand(*host, *src, *dst)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitSetup
	}

	logger.Info("sync starting", "host", *host, "src", *src, "dst", *dst)
	out := execute.New(os.Stdout, os.Stderr).Run(argv, execute.Options{
		Mode:       execute.PrintPrefix,
		Prefix:     "sync@" + *host,
		ShowErrors: true,
	})
	if !out.Succeeded() {
		logger.Error("sync failed", "host", *host, "kind", out.Kind.String(), "exit_code", out.ExitCode, "error", out.Err)
		return exitJobsFailed
	}
	logger.Info("sync complete", "host", *host, "lines", len(out.Lines))
	return exitOK
}

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	journalPath := fs.String("journal", "", "Path to the SQLite run journal")
	runID := fs.String("run", "", "Run ID or unique prefix (default: list runs)")
	limit := fs.Int("limit", 20, "Maximum runs to list (0 = all)")
	asJSON := fs.Bool("json", false, "Output the run report as JSON")
	if err := fs.Parse(args); err != nil {
		return exitSetup
	}
	if *journalPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --journal is required")
		return exitSetup
	}
	// Open would create an empty journal; inspecting a typo should not.
	if _, err := os.Stat(*journalPath); err != nil {
		fmt.Fprintf(os.Stderr, "Journal not found: %s\n", *journalPath)
		return exitSetup
	}

	log.Setup("warn", "text", os.Stderr)

	ctx := context.Background()
	j, err := journal.Open(ctx, *journalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return exitSetup
	}
	defer j.Close()

	var out string
	switch {
	case *runID == "":
		out, err = inspect.BuildRunList(ctx, j, *limit)
	case *asJSON:
		out, err = inspect.BuildJSONReport(ctx, j, *runID)
	default:
		out, err = inspect.BuildReport(ctx, j, *runID)
	}
	if err != nil {
		if errors.Is(err, journal.ErrRunNotFound) {
			fmt.Fprintf(os.Stderr, "Run not found: %s\n", *runID)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to build report: %v\n", err)
		}
		return exitSetup
	}

	fmt.Print(out)
	return exitOK
}

// runCheck validates a config and job file without running anything.
func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	jobfilePath := fs.String("jobfile", "", "Job file to check")
	var hosts hostFlags
	fs.Var(&hosts, "host", "Add workers on a host: '[USER@]HOST [WORKERS]' (repeatable)")
	asJSON := fs.Bool("json", false, "Output the result as JSON")
	if err := fs.Parse(args); err != nil {
		return exitSetup
	}

	cfg, err := loadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitSetup
	}
	if len(hosts) > 0 {
		cfg.Hosts = hosts
		cfg.ApplyDefaults()
	}

	var jobs [][]string
	if *jobfilePath != "" {
		jobs, err = jobfile.Load(*jobfilePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read job file: %v\n", err)
			return exitJobsFailed
		}
		if jobs == nil {
			jobs = [][]string{}
		}
	}

	result := doctor.New(cfg, jobs).Validate()
	if *asJSON {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
			return exitSetup
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return exitJobsFailed
	}
	return exitOK
}
