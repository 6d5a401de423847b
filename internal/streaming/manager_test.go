package streaming

import (
	"testing"

	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

func TestRingReplaySince(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 4; i++ {
		r.push(Event{Seq: uint64(i + 1)})
	}
	// ring holds seq 2,3,4
	evs := r.since(0)
	if len(evs) != 3 || evs[0].Seq != 2 || evs[2].Seq != 4 {
		t.Fatalf("unexpected ring contents: %+v", evs)
	}
	evs = r.since(2)
	if len(evs) != 2 || evs[0].Seq != 3 || evs[1].Seq != 4 {
		t.Fatalf("unexpected replay since 2: %+v", evs)
	}
}

func TestManager_PublishAndSubscribe(t *testing.T) {
	m := NewManager(8)
	ch := m.Subscribe("s1", 4)
	other := m.Subscribe("s2", 4)

	m.Report(research.Progress{Type: research.EventSessionStarted, SessionID: "s1"})
	m.Report(research.Progress{Type: research.EventSessionCompleted, SessionID: "s1"})

	first := <-ch
	second := <-ch
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("unexpected sequence: %d, %d", first.Seq, second.Seq)
	}
	if first.Terminal() || !second.Terminal() {
		t.Fatalf("terminal flags wrong: %v %v", first.Terminal(), second.Terminal())
	}
	select {
	case e := <-other:
		t.Fatalf("event leaked to another session: %+v", e)
	default:
	}

	m.Unsubscribe("s1", ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	// double unsubscribe is a no-op
	m.Unsubscribe("s1", ch)
	m.Unsubscribe("s2", other)
}

func TestManager_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewManager(8)
	ch := m.Subscribe("s1", 1)
	for i := 0; i < 5; i++ {
		m.Publish("s1", research.Progress{Type: research.EventSubagentCompleted, SessionID: "s1"})
	}
	if got := len(m.ReplaySince("s1", 0)); got != 5 {
		t.Fatalf("expected 5 buffered events, got %d", got)
	}
	if got := m.ReplaySince("s1", 3); len(got) != 2 || got[0].Seq != 4 {
		t.Fatalf("unexpected replay: %+v", got)
	}
	m.Unsubscribe("s1", ch)
}

func TestManager_Forget(t *testing.T) {
	m := NewManager(4)
	ch := m.Subscribe("s1", 1)
	m.Publish("s1", research.Progress{Type: research.EventSessionStarted})
	m.Forget("s1")

	if evs := m.ReplaySince("s1", 0); evs != nil {
		t.Fatalf("history should be gone, got %+v", evs)
	}
	<-ch // buffered event
	if _, ok := <-ch; ok {
		t.Fatal("subscriber should be closed")
	}
}

func TestEventMarshal(t *testing.T) {
	e := Event{Progress: research.Progress{Type: "X", SessionID: "s"}, Seq: 7}
	got := string(e.Marshal())
	if got == "" || got[0] != '{' {
		t.Fatalf("unexpected json: %s", got)
	}
}
