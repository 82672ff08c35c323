package queue

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/zeebo/blake3"
)

var (
	// ErrShutdown is returned by Take when the caller consumed a stop notice.
	ErrShutdown = errors.New("queue shut down")
	// ErrClosed is returned by Submit once Shutdown has been called.
	ErrClosed = errors.New("queue closed for submission")
)

// Job is one command line to run, identified by its submission index.
type Job struct {
	Index   int
	Command []string
}

// String renders the command the way a user would type it.
func (j Job) String() string {
	return shellescape.QuoteCommand(j.Command)
}

// Fingerprint returns a BLAKE3 digest of the command tokens. Identical
// commands share a fingerprint regardless of their index.
func (j Job) Fingerprint() string {
	sum := blake3.Sum256([]byte(strings.Join(j.Command, "\x00")))
	return hex.EncodeToString(sum[:16])
}
