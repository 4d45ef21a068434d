package netstate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cdlta/tracker/internal/logging"
)

func TestStatic(t *testing.T) {
	if !Static(true).Online() || Static(false).Online() {
		t.Error("Static does not report its value")
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Any status counts as reachable.
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	target := srv.URL
	m := NewMonitor(Options{URL: func() string { return target }, Logger: logging.Discard()})

	if m.Online() {
		t.Fatal("monitor should start offline")
	}
	if !m.Probe(context.Background()) || !m.Online() {
		t.Error("reachable server should read as online")
	}

	srv.Close()
	if m.Probe(context.Background()) {
		t.Error("closed server should read as offline")
	}

	target = ""
	if !m.Probe(context.Background()) || !m.Online() {
		t.Error("empty probe URL should not report offline")
	}
}

func TestSubscribe_Transitions(t *testing.T) {
	m := NewMonitor(Options{Logger: logging.Discard()})
	events := m.Subscribe()

	m.Set(false)
	m.Set(true)
	m.Set(true) // no change, no event
	m.Set(false)

	var got []bool
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			got = append(got, ev.Online)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	want := []bool{false, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	select {
	case ev := <-events:
		t.Errorf("unexpected extra event %+v", ev)
	default:
	}
}

func TestRun_ClosesSubscribers(t *testing.T) {
	m := NewMonitor(Options{Interval: 10 * time.Millisecond, Logger: logging.Discard()})
	events := m.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}

	for range events {
	}
}
