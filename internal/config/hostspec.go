package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRemoteWorkers is the worker count for a remote host given without one.
const DefaultRemoteWorkers = 10

// ErrInvalidHostSpec is returned for malformed host specifications.
var ErrInvalidHostSpec = errors.New("invalid host spec")

const hostSpecUsage = "specify hosts as '[USER@]HOST [NUM_WORKERS]'"

// ParseHostSpec parses "[user@]host [workers]". An omitted worker count is
// left at zero and filled in by Config.ApplyDefaults.
func ParseHostSpec(s string) (HostSpec, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 0:
		return HostSpec{}, fmt.Errorf("%w: empty; %s", ErrInvalidHostSpec, hostSpecUsage)
	case 1:
		return HostSpec{Host: fields[0]}, nil
	case 2:
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return HostSpec{}, fmt.Errorf("%w: %s; NUM_WORKERS given as %q but needs to be an integer",
				ErrInvalidHostSpec, hostSpecUsage, fields[1])
		}
		if n < 1 {
			return HostSpec{}, fmt.Errorf("%w: %s; non-positive NUM_WORKERS given (%d)",
				ErrInvalidHostSpec, hostSpecUsage, n)
		}
		return HostSpec{Host: fields[0], Workers: n}, nil
	default:
		return HostSpec{}, fmt.Errorf("%w: %s; too many fields in %q", ErrInvalidHostSpec, hostSpecUsage, s)
	}
}

// UnmarshalYAML accepts either the string form or a {host, workers} mapping.
func (h *HostSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := ParseHostSpec(value.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*h = parsed
		return nil
	case yaml.MappingNode:
		var raw struct {
			Host    string `yaml:"host"`
			Workers int    `yaml:"workers"`
		}
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if strings.TrimSpace(raw.Host) == "" {
			return fmt.Errorf("line %d: %w: host is empty", value.Line, ErrInvalidHostSpec)
		}
		if raw.Workers < 0 {
			return fmt.Errorf("line %d: %w: non-positive workers (%d)", value.Line, ErrInvalidHostSpec, raw.Workers)
		}
		*h = HostSpec{Host: strings.TrimSpace(raw.Host), Workers: raw.Workers}
		return nil
	default:
		return fmt.Errorf("line %d: %w: expected string or mapping", value.Line, ErrInvalidHostSpec)
	}
}

// TotalWorkers sums the worker counts of hosts.
func TotalWorkers(hosts []HostSpec) int {
	total := 0
	for _, h := range hosts {
		total += h.Workers
	}
	return total
}
