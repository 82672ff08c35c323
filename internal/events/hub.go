// Package events carries run and job lifecycle notifications from the
// dispatcher to the status API and the live view.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published during a run.
const (
	RunStarted  = "run.started"
	RunFinished = "run.finished"
	JobStarted  = "job.started"
	JobFinished = "job.finished"
)

// Event is one published notification. Data holds the JSON payload.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Hub fans events out to subscribers and keeps the most recent ones in a
// ring so late clients can catch up. IDs are assigned in publish order and
// are strictly increasing within the ring and on every subscription.
type Hub struct {
	mu     sync.Mutex
	nextID int64
	ring   []Event
	start  int
	size   int
	closed bool

	subs      map[int]chan Event
	nextSubID int
	subBuffer int

	dropped atomic.Int64
}

// NewHub creates a hub remembering up to capacity events. Each subscriber
// gets a buffer of the same size.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring:      make([]Event, capacity),
		subs:      make(map[int]chan Event),
		subBuffer: capacity,
	}
}

// Publish records an event and fans it out. A nil Hub drops the event, so
// publishers don't need to check whether anyone is listening. A subscriber
// whose buffer is full misses the event; see Dropped.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}

	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ev := Event{
		ID:   h.nextID,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.pushLocked(ev)
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of events published from now on and a cancel
// func that closes it. Subscribing to a closed hub yields a closed channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.subBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Close ends every subscription. Later events are still kept in the ring
// for SnapshotSince. Close is idempotent.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Dropped reports how many deliveries were skipped because a subscriber
// was not keeping up.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := range h.size {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
