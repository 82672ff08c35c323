package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete dojobs configuration.
type Config struct {
	Include         []string        `yaml:"include,omitempty"`
	Hosts           []HostSpec      `yaml:"hosts"`
	SetupPause      Duration        `yaml:"setup_pause"`
	Timeout         Duration        `yaml:"timeout"`
	WorkDir         string          `yaml:"work_dir,omitempty"`
	PrintMode       string          `yaml:"print_mode"`
	PrintPrefix     string          `yaml:"print_prefix,omitempty"`
	ShowErrors      bool            `yaml:"show_errors"`
	SuppressConsole bool            `yaml:"suppress_console"`
	Transport       TransportConfig `yaml:"transport"`
	Journal         JournalConfig   `yaml:"journal,omitempty"`
	API             APIConfig       `yaml:"api,omitempty"`
	Log             LogConfig       `yaml:"log"`
}

// HostSpec binds Workers workers to Host. Host is opaque to the engine and
// may carry a user, as in "alice@build1".
type HostSpec struct {
	Host    string `yaml:"host"`
	Workers int    `yaml:"workers"`
}

func (h HostSpec) String() string {
	return fmt.Sprintf("%s %d", h.Host, h.Workers)
}

// TransportConfig controls how commands reach remote hosts.
type TransportConfig struct {
	LocalHosts    []string `yaml:"local_hosts,omitempty"`
	RemoteCommand []string `yaml:"remote_command,omitempty"`
}

// JournalConfig defines the optional SQLite run journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the optional HTTP status endpoint.
type APIConfig struct {
	Listen string `yaml:"listen"`
	// Token, when set, is required as a bearer token on /progress and /events.
	Token string `yaml:"token"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a time.Duration that reads Go duration strings ("500ms") as
// well as bare numbers of seconds ("0.5").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// ParseDuration accepts "1m30s" style strings or a float number of seconds.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(d), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Set implements flag.Value.
func (d *Duration) Set(s string) error {
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Defaults returns a Config with the defaults used when no file is given.
func Defaults() *Config {
	return &Config{
		PrintMode: "auto",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
