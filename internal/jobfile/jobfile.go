// Package jobfile reads job lists: one command per line, blank lines and
// lines starting with '#' ignored. Lines are split into argv with shell-like
// quoting rules but are never handed to a shell, so redirection and chaining
// operators arrive at the command as plain arguments.
package jobfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/shlex"
)

// maxLineBytes caps a single job line.
const maxLineBytes = 1024 * 1024

// Parse reads commands from r in file order.
func Parse(r io.Reader) ([][]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var jobs [][]string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		argv, err := shlex.Split(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(argv) == 0 {
			continue
		}
		jobs = append(jobs, argv)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read jobs: %w", err)
	}
	return jobs, nil
}

// Load parses the job file at path. "-" reads standard input.
func Load(path string) ([][]string, error) {
	if path == "-" {
		return Parse(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open job file: %w", err)
	}
	defer f.Close()

	jobs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return jobs, nil
}
