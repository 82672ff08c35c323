// Package transport turns a job's argv into the argv that actually runs on
// its host. Local hosts run the command as-is; remote hosts run it through a
// remote-shell prefix such as ssh.
package transport

import (
	"fmt"
	"slices"
	"strings"

	"github.com/alessio/shellescape"
)

// DefaultLocalHosts are host names that execute in-process.
var DefaultLocalHosts = []string{"local", "localhost"}

// DefaultRemoteCommand is the remote-shell prefix; the host is appended.
var DefaultRemoteCommand = []string{"ssh", "-o", "StrictHostKeyChecking no"}

// Transport wraps commands for their target host.
type Transport struct {
	LocalHosts    []string
	RemoteCommand []string
}

// New returns a Transport, falling back to the defaults for empty fields.
func New(localHosts, remoteCommand []string) *Transport {
	if len(localHosts) == 0 {
		localHosts = DefaultLocalHosts
	}
	if len(remoteCommand) == 0 {
		remoteCommand = DefaultRemoteCommand
	}
	return &Transport{
		LocalHosts:    slices.Clone(localHosts),
		RemoteCommand: slices.Clone(remoteCommand),
	}
}

// IsLocal reports whether host runs commands without a remote shell.
func (t *Transport) IsLocal(host string) bool {
	if t == nil {
		return true
	}
	for _, h := range t.LocalHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// Wrap returns the argv to execute for a job on host. Remote commands are
// quoted into a single argument so the remote shell sees the original tokens.
func (t *Transport) Wrap(host string, argv []string) []string {
	if t.IsLocal(host) {
		return slices.Clone(argv)
	}
	out := make([]string, 0, len(t.RemoteCommand)+2)
	out = append(out, t.RemoteCommand...)
	out = append(out, host, shellescape.QuoteCommand(argv))
	return out
}

// SyncCommand builds an rsync invocation copying src to dst on host. Output
// is line buffered so it can be streamed like any job.
func (t *Transport) SyncCommand(host, src, dst string) ([]string, error) {
	if src == "" || dst == "" {
		return nil, fmt.Errorf("sync requires both a source and a destination")
	}

	rsh := make([]string, 0, len(t.RemoteCommand))
	for _, arg := range t.RemoteCommand {
		rsh = append(rsh, shellescape.Quote(arg))
	}

	argv := []string{
		"rsync",
		"--outbuf", "L",
		"--links", "--recursive", "--perms", "--group", "--verbose",
		"-e", strings.Join(rsh, " "),
		src,
	}
	if t.IsLocal(host) {
		return append(argv, dst), nil
	}
	return append(argv, host+":"+dst), nil
}
