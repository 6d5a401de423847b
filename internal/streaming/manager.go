package streaming

import (
	"encoding/json"
	"sync"

	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

const defaultCapacity = 256

// Event is a progress event with its per-session sequence number, used by
// the SSE and websocket endpoints.
type Event struct {
	research.Progress
	Seq uint64 `json:"seq"`
}

// Terminal reports whether no further events follow for the session.
func (e Event) Terminal() bool {
	return e.Type == research.EventSessionCompleted || e.Type == research.EventSessionFailed
}

// Marshal returns JSON for event payloads in SSE or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub of session progress with a bounded
// replay history per session.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager creates a manager keeping up to capacity events per session.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Report implements research.ProgressSink.
func (m *Manager) Report(p research.Progress) {
	m.Publish(p.SessionID, p)
}

// Subscribe adds a subscriber channel for sessionID; caller must drain and
// call Unsubscribe.
func (m *Manager) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.subscribers[sessionID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(m.subscribers, sessionID)
	}
}

// Publish records p and fans it out without blocking. Slow subscribers
// miss events and can catch up with ReplaySince.
func (m *Manager) Publish(sessionID string, p research.Progress) Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	rg := m.history[sessionID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[sessionID] = rg
	}
	rg.nextSeq++
	evt := Event{Progress: p, Seq: rg.nextSeq}
	rg.push(evt)

	for ch := range m.subscribers[sessionID] {
		select {
		case ch <- evt:
		default:
		}
	}
	return evt
}

// ReplaySince returns events with Seq > since that are still buffered.
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[sessionID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the history of a discarded session and closes its
// remaining subscribers.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, sessionID)
	for ch := range m.subscribers[sessionID] {
		close(ch)
	}
	delete(m.subscribers, sessionID)
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
