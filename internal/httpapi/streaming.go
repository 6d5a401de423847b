package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
	"github.com/Kocoro-lab/Shannon/go/research/internal/streaming"
)

const (
	subscriberBuffer = 256
	sseHeartbeat     = 15 * time.Second
)

// lastEventID reads the replay position from the Last-Event-ID header or
// the last_event_id query parameter.
func lastEventID(r *http.Request) uint64 {
	for _, v := range []string{r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id")} {
		if v == "" {
			continue
		}
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// terminalEvent describes a finished session whose event history is no
// longer buffered.
func terminalEvent(s *research.Session) streaming.Event {
	typ, msg := research.EventSessionCompleted, s.ExitReason
	if s.Status == research.StatusFailed {
		typ, msg = research.EventSessionFailed, s.Error
	}
	ts := s.UpdatedAt
	if s.CompletedAt != nil {
		ts = *s.CompletedAt
	}
	return streaming.Event{Progress: research.Progress{
		Type:      typ,
		SessionID: s.ID,
		Iteration: s.Iteration,
		Message:   msg,
		Timestamp: ts,
	}}
}

// eventCursor drops events already delivered to a client.
type eventCursor struct{ sent uint64 }

func (c *eventCursor) admit(ev streaming.Event) bool {
	if ev.Seq == 0 {
		return true
	}
	if ev.Seq <= c.sent {
		return false
	}
	c.sent = ev.Seq
	return true
}

// handleSSE streams progress for a session via Server-Sent Events and
// closes the stream after the terminal event.
// GET /v1/research/{id}/events
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := h.stream.Subscribe(s.ID, subscriberBuffer)
	defer h.stream.Unsubscribe(s.ID, ch)

	fmt.Fprintf(w, ": connected to session %s\n\n", s.ID)
	flusher.Flush()

	cursor := &eventCursor{sent: lastEventID(r)}
	send := func(ev streaming.Event) (done bool) {
		if !cursor.admit(ev) {
			return false
		}
		if ev.Seq > 0 {
			fmt.Fprintf(w, "id: %d\n", ev.Seq)
		}
		fmt.Fprintf(w, "event: %s\n", ev.Type)
		fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
		flusher.Flush()
		return ev.Terminal()
	}

	for _, ev := range h.stream.ReplaySince(s.ID, cursor.sent) {
		if send(ev) {
			return
		}
	}
	if s.Status.Terminal() {
		send(terminalEvent(s))
		return
	}

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("session_id", s.ID))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if send(ev) {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
