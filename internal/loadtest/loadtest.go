// Package loadtest drives the queue and sync engine under concurrent load.
//
// Writers enqueue transactions while syncers run overlapping sync passes
// against an in-process remote. Afterwards every enqueued transaction must
// have been applied by the remote exactly once and the local queue must be
// empty.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cdlta/tracker/internal/config"
	"github.com/cdlta/tracker/internal/devremote"
	"github.com/cdlta/tracker/internal/identity"
	"github.com/cdlta/tracker/internal/netstate"
	"github.com/cdlta/tracker/internal/queue"
	"github.com/cdlta/tracker/internal/remote"
	"github.com/cdlta/tracker/internal/schema"
	"github.com/cdlta/tracker/internal/store"
	"github.com/cdlta/tracker/internal/syncer"
)

const maxConsecutiveFailures = 20

// Options configures a run.
type Options struct {
	// StorePath is the SQLite file used for the local store. Required.
	StorePath string

	// Writers is the number of concurrent enqueueing goroutines.
	Writers int

	// PerWriter is how many transactions each writer enqueues.
	PerWriter int

	// Syncers is the number of goroutines calling Sync concurrently.
	Syncers int

	// Coalesce enables the engine's in-flight guard.
	Coalesce bool

	// Remote is the authority synced against. Nil starts a fresh one.
	Remote *devremote.Server

	Logger *log.Logger
}

// LatencyStats captures call latencies.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	TotalCalls int
	Errors     int
	Durations  []time.Duration
}

// Report is the outcome of a run.
type Report struct {
	Enqueued   int
	Applied    int
	Duplicates int
	Batches    int
	Remaining  int

	// Missing lists enqueued ids the remote never applied.
	Missing []string

	// Unexpected lists applied ids nobody enqueued.
	Unexpected []string

	Enqueue *LatencyStats
	Sync    *LatencyStats
	Elapsed time.Duration
}

// Verify returns an error unless every transaction was applied exactly once
// and the queue drained.
func (r *Report) Verify() error {
	if len(r.Missing) > 0 {
		return fmt.Errorf("%d transactions never reached the remote (first: %s)", len(r.Missing), r.Missing[0])
	}
	if len(r.Unexpected) > 0 {
		return fmt.Errorf("%d unexpected transactions applied (first: %s)", len(r.Unexpected), r.Unexpected[0])
	}
	if r.Applied != r.Enqueued {
		return fmt.Errorf("remote applied %d transactions, %d were enqueued", r.Applied, r.Enqueued)
	}
	if r.Remaining != 0 {
		return fmt.Errorf("queue not drained: %d remaining", r.Remaining)
	}
	return nil
}

func (o *Options) setDefaults() {
	if o.Writers <= 0 {
		o.Writers = 4
	}
	if o.PerWriter <= 0 {
		o.PerWriter = 25
	}
	if o.Syncers <= 0 {
		o.Syncers = 3
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "[loadtest] ", log.LstdFlags)
	}
}

// Run executes one load test.
func Run(ctx context.Context, opts Options) (*Report, error) {
	opts.setDefaults()
	if opts.StorePath == "" {
		return nil, fmt.Errorf("store path is required")
	}

	st, err := store.OpenContext(ctx, opts.StorePath)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	authority := opts.Remote
	if authority == nil {
		authority = devremote.New(log.New(io.Discard, "", 0))
	}
	base, shutdown, err := serve(authority)
	if err != nil {
		return nil, err
	}
	defer shutdown()

	ids := identity.New(st)
	deviceID, err := ids.DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	quiet := log.New(io.Discard, "", 0)
	engine := syncer.New(syncer.Options{
		Store:    st,
		Remote:   remote.New(remote.Options{Logger: quiet}),
		Settings: config.Static{APIBase: base, StaffID: "LOADTEST"},
		Network:  netstate.Static(true),
		Identity: ids,
		Coalesce: opts.Coalesce,
		Logger:   quiet,
	})
	q := queue.New(st, quiet)

	opts.Logger.Printf("Starting: %d writers x %d transactions, %d syncers (coalesce=%v)",
		opts.Writers, opts.PerWriter, opts.Syncers, opts.Coalesce)
	start := time.Now()

	var (
		mu           sync.Mutex
		enqueued     []string
		enqueueTimes []time.Duration
		syncTimes    []time.Duration
		syncErrors   int
	)

	writersDone := make(chan struct{})
	var writers errgroup.Group
	for w := 0; w < opts.Writers; w++ {
		w := w
		writers.Go(func() error {
			for i := 0; i < opts.PerWriter; i++ {
				txn := newTransaction(deviceID, w, i)
				t0 := time.Now()
				if err := q.Enqueue(ctx, txn); err != nil {
					return fmt.Errorf("writer %d: %w", w, err)
				}
				elapsed := time.Since(t0)

				mu.Lock()
				enqueued = append(enqueued, txn.ID)
				enqueueTimes = append(enqueueTimes, elapsed)
				mu.Unlock()
			}
			return nil
		})
	}

	var syncers errgroup.Group
	for s := 0; s < opts.Syncers; s++ {
		syncers.Go(func() error {
			failures := 0
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}

				t0 := time.Now()
				res, err := engine.Sync(ctx)
				elapsed := time.Since(t0)

				mu.Lock()
				syncTimes = append(syncTimes, elapsed)
				if err != nil {
					syncErrors++
				}
				mu.Unlock()

				if err != nil {
					failures++
					if failures >= maxConsecutiveFailures {
						return fmt.Errorf("syncer giving up after %d failures: %w", failures, err)
					}
				} else {
					failures = 0
				}

				select {
				case <-writersDone:
					if err == nil && res.Remaining == 0 {
						return nil
					}
				default:
				}
				time.Sleep(time.Millisecond)
			}
		})
	}

	werr := writers.Wait()
	close(writersDone)
	serr := syncers.Wait()
	if werr != nil {
		return nil, werr
	}
	if serr != nil {
		return nil, serr
	}

	// One last pass picks up anything enqueued after the final snapshot.
	final, err := engine.Sync(ctx)
	if err != nil {
		return nil, fmt.Errorf("final sync failed: %w", err)
	}

	report := &Report{
		Enqueued:   len(enqueued),
		Applied:    len(authority.AppliedIDs()),
		Duplicates: authority.Duplicates(),
		Batches:    authority.Batches(),
		Remaining:  final.Remaining,
		Enqueue:    computeLatencyStats(enqueueTimes),
		Sync:       computeLatencyStats(syncTimes),
		Elapsed:    time.Since(start),
	}
	report.Sync.Errors = syncErrors
	report.Missing, report.Unexpected = diff(enqueued, authority.AppliedIDs())

	opts.Logger.Printf("Finished in %s: %d enqueued, %d applied, %d duplicates over %d batches",
		report.Elapsed.Round(time.Millisecond), report.Enqueued, report.Applied, report.Duplicates, report.Batches)
	return report, nil
}

// serve exposes the authority on a loopback port.
func serve(h http.Handler) (string, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen: %w", err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return "http://" + ln.Addr().String() + "/exec", shutdown, nil
}

func newTransaction(deviceID string, writer, i int) *schema.Transaction {
	actions := schema.Actions
	txn := &schema.Transaction{
		ID:       identity.NewTransactionID(),
		DeviceID: deviceID,
		StaffID:  "LOADTEST",
		Action:   actions[(writer+i)%len(actions)],
		RefID:    fmt.Sprintf("REF-%02d-%04d", writer, i),
		Quantity: schema.Qty(1 + i%5),
		Notes:    fmt.Sprintf("writer %d", writer),
	}
	if txn.Action.NeedsStudent() {
		txn.StudentID = fmt.Sprintf("S-%04d", i)
		txn.StudentName = "Load Test"
	}
	txn.SetDefaults(time.Now())
	return txn
}

func diff(enqueued, applied []string) (missing, unexpected []string) {
	want := make(map[string]bool, len(enqueued))
	for _, id := range enqueued {
		want[id] = true
	}
	got := make(map[string]bool, len(applied))
	for _, id := range applied {
		got[id] = true
		if !want[id] {
			unexpected = append(unexpected, id)
		}
	}
	for _, id := range enqueued {
		if !got[id] {
			missing = append(missing, id)
		}
	}
	return missing, unexpected
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalCalls: len(durations),
		Durations:  sorted,
	}
}

// Print writes the statistics under a heading.
func (s *LatencyStats) Print(w io.Writer, heading string) {
	fmt.Fprintf(w, "%s:\n", heading)
	fmt.Fprintf(w, "  Total Calls:   %d\n", s.TotalCalls)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
