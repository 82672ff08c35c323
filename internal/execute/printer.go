package execute

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ErrUnknownPrintMode is returned for print modes outside the known set.
var ErrUnknownPrintMode = errors.New("unknown print mode")

// PrintMode selects how captured lines are echoed while a command runs.
type PrintMode int

const (
	// PrintAuto resolves to PrintTimestampPrefix when a prefix is set and to
	// PrintNone otherwise.
	PrintAuto PrintMode = iota
	PrintTimestampPrefix
	PrintPrefix
	PrintRaw
	PrintNone
)

var printModeNames = map[PrintMode]string{
	PrintAuto:            "auto",
	PrintTimestampPrefix: "timestamp-prefix",
	PrintPrefix:          "prefix",
	PrintRaw:             "raw",
	PrintNone:            "none",
}

func (m PrintMode) String() string {
	if name, ok := printModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("PrintMode(%d)", int(m))
}

// Valid reports whether m is one of the declared modes.
func (m PrintMode) Valid() bool {
	_, ok := printModeNames[m]
	return ok
}

// ParsePrintMode parses a print mode name. The long names used by older job
// scripts are accepted as aliases.
func ParsePrintMode(s string) (PrintMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PrintAuto, nil
	case "timestamp-prefix", "with-timestamps-and-prefix":
		return PrintTimestampPrefix, nil
	case "prefix", "with-prefix":
		return PrintPrefix, nil
	case "raw", "pure-lines":
		return PrintRaw, nil
	case "none", "no-printing":
		return PrintNone, nil
	default:
		return PrintAuto, fmt.Errorf("%w: %q", ErrUnknownPrintMode, s)
	}
}

// resolve applies the prefix rules: auto picks timestamps when a prefix is
// present, and prefixed modes without a prefix degrade to raw lines.
func (m PrintMode) resolve(prefix string) PrintMode {
	if m == PrintAuto {
		if prefix != "" {
			return PrintTimestampPrefix
		}
		return PrintNone
	}
	if (m == PrintPrefix || m == PrintTimestampPrefix) && prefix == "" {
		return PrintRaw
	}
	return m
}

// MarshalText implements encoding.TextMarshaler.
func (m PrintMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPrintMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *PrintMode) UnmarshalText(text []byte) error {
	parsed, err := ParsePrintMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// lineSink serializes whole lines from concurrent commands onto one writer.
type lineSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *lineSink) writeLine(line string) {
	if s == nil || s.w == nil {
		return
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, line)
}

type printer func(line string)

func newPrinter(mode PrintMode, prefix string, sink *lineSink, now func() time.Time) (printer, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPrintMode, int(mode))
	}

	switch mode.resolve(prefix) {
	case PrintTimestampPrefix:
		return func(line string) {
			sink.writeLine(fmt.Sprintf("[%s %s] %s", prefix, now().Format("15:04:05"), line))
		}, nil
	case PrintPrefix:
		return func(line string) {
			sink.writeLine(fmt.Sprintf("[%s] %s", prefix, line))
		}, nil
	case PrintRaw:
		return sink.writeLine, nil
	default:
		return func(string) {}, nil
	}
}
