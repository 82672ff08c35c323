// Package doctor validates a dojobs configuration and job file before a run.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/mattjoyce/dojobs/internal/config"
	"github.com/mattjoyce/dojobs/internal/transport"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor checks a config and the jobs it is about to run.
type Doctor struct {
	cfg       *config.Config
	jobs      [][]string
	transport *transport.Transport
	lookPath  func(string) (string, error)
}

// New creates a Doctor. cfg should have defaults applied but need not be
// valid; jobs may be nil when no job file was given.
func New(cfg *config.Config, jobs [][]string) *Doctor {
	return &Doctor{
		cfg:       cfg,
		jobs:      jobs,
		transport: cfg.Transporter(),
		lookPath:  exec.LookPath,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validateWorkDir(r)
	d.validateTransport(r)
	d.validateJobs(r)
	d.validateAPIConfig(r)
	d.warnDuplicateHosts(r)
	d.warnIdleWorkers(r)
	d.warnShellSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConfig turns each config validation failure into its own issue.
func (d *Doctor) validateConfig(r *Result) {
	err := d.cfg.Validate()
	if err == nil {
		return
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			d.addError(r, "config", "", e.Error())
		}
		return
	}
	d.addError(r, "config", "", err.Error())
}

func (d *Doctor) validateWorkDir(r *Result) {
	if d.cfg.WorkDir == "" {
		return
	}
	info, err := os.Stat(d.cfg.WorkDir)
	switch {
	case err != nil:
		d.addError(r, "work_dir", "work_dir", fmt.Sprintf("cannot use %q: %v", d.cfg.WorkDir, err))
	case !info.IsDir():
		d.addError(r, "work_dir", "work_dir", fmt.Sprintf("%q is not a directory", d.cfg.WorkDir))
	}
}

// validateTransport checks the remote command exists when any host is remote.
func (d *Doctor) validateTransport(r *Result) {
	if !d.anyRemote() {
		return
	}
	if len(d.transport.RemoteCommand) == 0 {
		d.addError(r, "transport", "transport.remote_command", "remote hosts configured but remote_command is empty")
		return
	}
	bin := d.transport.RemoteCommand[0]
	if _, err := d.lookPath(bin); err != nil {
		d.addError(r, "transport", "transport.remote_command",
			fmt.Sprintf("remote command %q not found on PATH", bin))
	}
}

// validateJobs checks every local executable resolves. Remote hosts are not
// checked; they get a warning instead.
func (d *Doctor) validateJobs(r *Result) {
	if d.jobs == nil {
		return
	}
	if len(d.jobs) == 0 {
		d.addWarning(r, "jobs", "", "job file contains no jobs")
		return
	}
	if d.anyRemote() {
		d.addWarning(r, "jobs", "", "executables are not checked on remote hosts")
	}
	if !d.anyLocal() {
		return
	}

	checked := make(map[string]bool)
	for i, argv := range d.jobs {
		bin := argv[0]
		if checked[bin] {
			continue
		}
		checked[bin] = true
		if _, err := d.lookPath(bin); err != nil {
			d.addError(r, "jobs", fmt.Sprintf("jobs[%d]", i),
				fmt.Sprintf("executable %q not found", bin))
		}
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if d.cfg.API.Listen == "" {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if d.cfg.API.Token != "" {
		return
	}
	if ip := net.ParseIP(host); host == "localhost" || (ip != nil && ip.IsLoopback()) {
		return
	}
	d.addWarning(r, "api", "api.token", "status endpoint listens beyond loopback without a token")
}

func (d *Doctor) warnDuplicateHosts(r *Result) {
	seen := make(map[string]int)
	for i, h := range d.cfg.Hosts {
		key := strings.ToLower(h.Host)
		if prev, ok := seen[key]; ok {
			d.addWarning(r, "hosts", fmt.Sprintf("hosts[%d]", i),
				fmt.Sprintf("host %q already listed at hosts[%d]; the start throttle is shared", h.Host, prev))
			continue
		}
		seen[key] = i
	}
}

func (d *Doctor) warnIdleWorkers(r *Result) {
	if d.jobs == nil {
		return
	}
	workers := config.TotalWorkers(d.cfg.Hosts)
	if len(d.jobs) > 0 && workers > len(d.jobs) {
		d.addWarning(r, "hosts", "",
			fmt.Sprintf("%d workers for %d jobs; %d will stay idle", workers, len(d.jobs), workers-len(d.jobs)))
	}
}

var shellSyntax = regexp.MustCompile(`\$\{?[A-Za-z_]|[|&;<>]|^~`)

// warnShellSyntax flags tokens that only mean something to a shell. Local
// jobs are exec'd directly, so these are passed through literally.
func (d *Doctor) warnShellSyntax(r *Result) {
	if !d.anyLocal() {
		return
	}
	for i, argv := range d.jobs {
		for _, tok := range argv {
			if shellSyntax.MatchString(tok) {
				d.addWarning(r, "jobs", fmt.Sprintf("jobs[%d]", i),
					fmt.Sprintf("token %q looks like shell syntax but local jobs run without a shell", tok))
				break
			}
		}
	}
}

func (d *Doctor) anyRemote() bool {
	for _, h := range d.cfg.Hosts {
		if !d.transport.IsLocal(h.Host) {
			return true
		}
	}
	return false
}

func (d *Doctor) anyLocal() bool {
	for _, h := range d.cfg.Hosts {
		if d.transport.IsLocal(h.Host) {
			return true
		}
	}
	return false
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
