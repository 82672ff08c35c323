package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/dojobs/internal/execute"
	"github.com/mattjoyce/dojobs/internal/transport"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a configuration file on top of Defaults. Files listed under
// include are merged in order, relative to the including file. Defaults and
// validation are left to Finalize so CLI flags can be layered on first.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg := Defaults()
	if err := loadInto(cfg, absPath, make(map[string]bool)); err != nil {
		return nil, err
	}
	cfg.Include = nil
	return cfg, nil
}

// loadInto merges the file at path and its includes into cfg.
// visited tracks loaded files to prevent cycles.
func loadInto(cfg *Config, path string, visited map[string]bool) error {
	if visited[path] {
		return fmt.Errorf("circular include detected: %s", path)
	}
	visited[path] = true

	file, err := loadConfigFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	mergeConfig(cfg, file)

	baseDir := filepath.Dir(path)
	for i, includePath := range file.Include {
		includePath = interpolateEnv(includePath)
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, includePath)
		}
		if _, err := os.Stat(includePath); err != nil {
			return fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s", i, includePath, path)
		}
		if err := loadInto(cfg, filepath.Clean(includePath), visited); err != nil {
			return fmt.Errorf("include[%d]: %w", i, err)
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// mergeConfig merges src into dst. Hosts are appended; other non-zero values
// from src override dst.
func mergeConfig(dst, src *Config) {
	dst.Hosts = append(dst.Hosts, src.Hosts...)
	if src.SetupPause != 0 {
		dst.SetupPause = src.SetupPause
	}
	if src.Timeout != 0 {
		dst.Timeout = src.Timeout
	}
	if src.WorkDir != "" {
		dst.WorkDir = src.WorkDir
	}
	if src.PrintMode != "" {
		dst.PrintMode = src.PrintMode
	}
	if src.PrintPrefix != "" {
		dst.PrintPrefix = src.PrintPrefix
	}
	if src.ShowErrors {
		dst.ShowErrors = true
	}
	if src.SuppressConsole {
		dst.SuppressConsole = true
	}
	if len(src.Transport.LocalHosts) > 0 {
		dst.Transport.LocalHosts = src.Transport.LocalHosts
	}
	if len(src.Transport.RemoteCommand) > 0 {
		dst.Transport.RemoteCommand = src.Transport.RemoteCommand
	}
	if src.Journal.Path != "" {
		dst.Journal.Path = src.Journal.Path
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Token != "" {
		dst.API.Token = src.API.Token
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Leave the placeholder; validation reports it where it matters.
		return match
	})
}

// Transporter builds the command transport described by the config.
func (c *Config) Transporter() *transport.Transport {
	return transport.New(c.Transport.LocalHosts, c.Transport.RemoteCommand)
}

// Mode parses the configured print mode.
func (c *Config) Mode() (execute.PrintMode, error) {
	return execute.ParsePrintMode(c.PrintMode)
}

// ApplyDefaults fills in a local host when none is configured and worker
// counts for hosts given without one: the CPU count for local hosts,
// DefaultRemoteWorkers otherwise.
func (c *Config) ApplyDefaults() {
	tr := c.Transporter()
	if len(c.Hosts) == 0 {
		c.Hosts = []HostSpec{{Host: tr.LocalHosts[0]}}
	}
	for i, h := range c.Hosts {
		if h.Workers != 0 {
			continue
		}
		if tr.IsLocal(h.Host) {
			c.Hosts[i].Workers = runtime.NumCPU()
		} else {
			c.Hosts[i].Workers = DefaultRemoteWorkers
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate performs basic validation on the configuration.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Hosts) == 0 {
		errs = append(errs, errors.New("no hosts configured"))
	}
	for i, h := range c.Hosts {
		if strings.TrimSpace(h.Host) == "" {
			errs = append(errs, fmt.Errorf("hosts[%d]: host is empty", i))
		}
		if h.Workers < 1 {
			errs = append(errs, fmt.Errorf("hosts[%d] (%s): workers must be positive, got %d", i, h.Host, h.Workers))
		}
	}
	if c.SetupPause < 0 {
		errs = append(errs, fmt.Errorf("setup_pause must not be negative, got %v", c.SetupPause))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %v", c.Timeout))
	}
	if _, err := c.Mode(); err != nil {
		errs = append(errs, fmt.Errorf("print_mode: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	for _, s := range append([]string{c.WorkDir, c.Journal.Path}, c.Transport.RemoteCommand...) {
		if envVarPattern.MatchString(s) {
			errs = append(errs, fmt.Errorf("unresolved environment variable in %q", s))
		}
	}

	return errors.Join(errs...)
}

// Finalize applies defaults and validates.
func (c *Config) Finalize() error {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
