// Package netstate tracks whether the remote is reachable.
//
// A Monitor probes a URL on an interval and reports the current state through
// Online and transitions through Subscribe. Any HTTP response, whatever its
// status, counts as online; only a transport failure counts as offline. With
// no probe target there is nothing to test, so the monitor reads as online and
// callers go on to report whatever else is missing.
package netstate

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Checker reports the current connectivity state.
type Checker interface {
	Online() bool
}

// Static is a fixed connectivity state.
type Static bool

// Online implements Checker.
func (s Static) Online() bool { return bool(s) }

// Event is a connectivity transition.
type Event struct {
	Online bool
	At     time.Time
}

// Options configures a Monitor.
type Options struct {
	// URL returns the probe target. It is called before every probe so a
	// settings change takes effect immediately. An empty URL reads as online.
	URL func() string

	// Interval between probes. Zero uses 15s.
	Interval time.Duration

	// Timeout for one probe. Zero uses 5s.
	Timeout time.Duration

	// HTTPClient overrides the probe client.
	HTTPClient *http.Client

	Logger *log.Logger
}

// Monitor is a probe-driven Checker. It starts offline until the first probe
// completes.
type Monitor struct {
	opts   Options
	client *http.Client
	logger *log.Logger

	mu     sync.RWMutex
	online bool
	probed bool
	subs   []chan Event
}

// NewMonitor returns a Monitor. Call Run to start probing.
func NewMonitor(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[netstate] ", log.LstdFlags)
	}
	return &Monitor{opts: opts, client: client, logger: logger}
}

// Online implements Checker.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe returns a channel receiving every transition. Slow subscribers
// miss events rather than block the monitor.
func (m *Monitor) Subscribe() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Event, 8)
	m.subs = append(m.subs, ch)
	return ch
}

// Run probes until ctx is cancelled, then closes every subscriber channel.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.closeSubs()

	m.Probe(ctx)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe checks reachability once and records the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	online := m.reachable(ctx)
	m.Set(online)
	return online
}

// Set records a connectivity state, emitting an event on change.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	changed := !m.probed || m.online != online
	m.online = online
	m.probed = true
	subs := append([]chan Event(nil), m.subs...)
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.logger.Printf("Remote reachable")
	} else {
		m.logger.Printf("Remote unreachable")
	}

	ev := Event{Online: online, At: time.Now()}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Monitor) reachable(ctx context.Context) bool {
	target := ""
	if m.opts.URL != nil {
		target = m.opts.URL()
	}
	if target == "" {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

func (m *Monitor) closeSubs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}
