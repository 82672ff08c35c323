// Package throttle spaces out job starts on the same host.
//
// Each host gets its own gate, created on first use. Wait holds the gate for
// the configured pause and stamps the start time before releasing it, so two
// stamped starts on one host are at least pause apart while hosts never wait
// on each other.
package throttle

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/dojobs/internal/log"
)

// Throttle is a registry of per-host start gates.
type Throttle struct {
	pause  time.Duration
	sleep  func(time.Duration)
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	gates map[string]*sync.Mutex
}

// New creates a Throttle. A zero or negative pause disables throttling.
func New(pause time.Duration) *Throttle {
	return &Throttle{
		pause:  pause,
		sleep:  time.Sleep,
		now:    time.Now,
		logger: log.WithComponent("throttle"),
		gates:  make(map[string]*sync.Mutex),
	}
}

// Pause returns the configured pause.
func (t *Throttle) Pause() time.Duration {
	if t == nil {
		return 0
	}
	return t.pause
}

// Enabled reports whether Wait ever blocks.
func (t *Throttle) Enabled() bool {
	return t != nil && t.pause > 0
}

// Wait blocks until a job may start on host and returns the start time,
// taken while the gate is still held. A disabled throttle returns the zero
// time without blocking.
func (t *Throttle) Wait(host string) time.Time {
	if !t.Enabled() {
		return time.Time{}
	}

	gate := t.gate(host)
	gate.Lock()
	defer gate.Unlock()

	t.logger.Debug("holding start gate", "host", host, "pause", t.pause)
	t.sleep(t.pause)
	return t.now()
}

// gate returns the gate for host, creating it under the registry lock.
func (t *Throttle) gate(host string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.gates[host]
	if !ok {
		g = &sync.Mutex{}
		t.gates[host] = g
	}
	return g
}

// Hosts returns the hosts that have a gate, sorted.
func (t *Throttle) Hosts() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	hosts := make([]string, 0, len(t.gates))
	for h := range t.gates {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
