package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/dojobs/internal/events"
)

// keepAliveInterval spaces SSE comment lines on idle streams.
var keepAliveInterval = 15 * time.Second

// streamEnd is sent once the hub closes, after the last buffered event.
const streamEnd = "stream.end"

// sseStream writes events to one client, never repeating or reordering IDs.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	hub     *events.Hub
	sent    int64
}

// catchUp writes every buffered event after the last one sent.
func (st *sseStream) catchUp() error {
	for _, ev := range st.hub.SnapshotSince(st.sent) {
		if err := st.write(ev); err != nil {
			return err
		}
	}
	st.flusher.Flush()
	return nil
}

func (st *sseStream) write(ev events.Event) error {
	if ev.ID <= st.sent {
		return nil
	}
	if _, err := fmt.Fprintf(st.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data); err != nil {
		return err
	}
	st.sent = ev.ID
	return nil
}

// handleEvents handles GET /events, streaming run and job lifecycle events
// as SSE. Last-Event-ID (or ?since=) resumes after that ID. A client that
// falls behind is refilled from the ring.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	since := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if since == 0 {
		since = parseLastEventID(r.URL.Query().Get("since"))
	}

	// Subscribe first; the replay below covers anything published meanwhile.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	st := &sseStream{w: w, flusher: flusher, hub: s.events, sent: since}
	if err := st.catchUp(); err != nil {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, open := <-ch:
			if !open {
				if st.catchUp() == nil {
					fmt.Fprintf(w, "event: %s\ndata: {}\n\n", streamEnd)
					flusher.Flush()
				}
				return
			}
			var err error
			if ev.ID > st.sent+1 {
				err = st.catchUp()
			} else {
				err = st.write(ev)
				flusher.Flush()
			}
			if err != nil {
				return
			}

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
