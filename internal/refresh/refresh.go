// Package refresh replaces the local student reference cache with the
// remote's current snapshot.
//
// A refresh is wholesale: the students collection is cleared and repopulated
// inside one store transaction, so a failure at any point before the commit
// leaves the previous snapshot in place. Records without a student_id are
// skipped; a missing full_name becomes "" and a missing status "Active".
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/cdlta/tracker/internal/config"
	"github.com/cdlta/tracker/internal/metrics"
	"github.com/cdlta/tracker/internal/netstate"
	"github.com/cdlta/tracker/internal/remote"
	"github.com/cdlta/tracker/internal/schema"
	"github.com/cdlta/tracker/internal/store"
)

// Precondition sentinels. Test with errors.Is.
var (
	ErrOffline         = errors.New("offline")
	ErrMissingEndpoint = errors.New("endpoint is not configured")
)

// PreconditionError reports a gate that stopped a refresh before any network
// activity.
type PreconditionError struct {
	Err     error
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

func (e *PreconditionError) Unwrap() error { return e.Err }

// Store is the subset of the local store the refresher needs.
type Store interface {
	ReplaceStudents(ctx context.Context, students []*schema.Student) error
	GetMeta(ctx context.Context, key string) (string, error)
	PutMeta(ctx context.Context, key, value string) error
}

// Fetcher downloads the student snapshot.
type Fetcher interface {
	FetchStudents(ctx context.Context, base string) (*remote.StudentsResponse, error)
}

// Options configures a Refresher.
type Options struct {
	Store    Store
	Remote   Fetcher
	Settings config.Source
	Network  netstate.Checker
	Logger   *log.Logger
}

// Result describes a completed refresh.
type Result struct {
	// Stored is how many students are now cached.
	Stored int

	// Skipped counts records dropped for lacking a student_id.
	Skipped int

	// Reported is the count the remote claimed.
	Reported int
}

// Refresher refreshes the student cache.
type Refresher struct {
	opts   Options
	logger *log.Logger
}

// New returns a Refresher.
func New(opts Options) *Refresher {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[refresh] ", log.LstdFlags)
	}
	return &Refresher{opts: opts, logger: logger}
}

// Refresh downloads the snapshot and replaces the cache with it. Staff id is
// not required.
func (r *Refresher) Refresh(ctx context.Context) (*Result, error) {
	if !r.opts.Network.Online() {
		metrics.RefreshAttempts.WithLabelValues(metrics.OutcomePrecondition).Inc()
		return nil, &PreconditionError{
			Err:     ErrOffline,
			Message: "You are offline. Students list can be refreshed when online.",
		}
	}
	settings, err := r.opts.Settings.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if settings.APIBase == "" {
		metrics.RefreshAttempts.WithLabelValues(metrics.OutcomePrecondition).Inc()
		return nil, &PreconditionError{Err: ErrMissingEndpoint, Message: "Endpoint is not configured."}
	}

	resp, err := r.opts.Remote.FetchStudents(ctx, settings.APIBase)
	if err != nil {
		metrics.RefreshAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("refresh failed: %w", err)
	}

	students, skipped := Normalize(resp.Students)
	if err := r.opts.Store.ReplaceStudents(ctx, students); err != nil {
		metrics.RefreshAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to store students: %w", err)
	}

	metrics.RefreshAttempts.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.StudentsCached.Set(float64(len(students)))
	r.logger.Printf("Students refreshed: %d stored, %d skipped (remote reported %d)", len(students), skipped, resp.Count)

	return &Result{Stored: len(students), Skipped: skipped, Reported: resp.Count}, nil
}

// Normalize applies the defaults and drops records without an id. Later
// duplicates of an id replace earlier ones in place.
func Normalize(in []*schema.Student) ([]*schema.Student, int) {
	out := make([]*schema.Student, 0, len(in))
	index := make(map[string]int, len(in))
	skipped := 0
	for _, s := range in {
		if s == nil {
			skipped++
			continue
		}
		copied := *s
		if !copied.Normalize() {
			skipped++
			continue
		}
		if i, ok := index[copied.ID]; ok {
			out[i] = &copied
			continue
		}
		index[copied.ID] = len(out)
		out = append(out, &copied)
	}
	return out, skipped
}

// NeedsFirstRefresh reports whether the one-time initial refresh has not yet
// been recorded. The flag is advisory.
func NeedsFirstRefresh(ctx context.Context, st Store) (bool, error) {
	_, err := st.GetMeta(ctx, store.MetaStudentsRefreshed)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read refresh flag: %w", err)
	}
	return false, nil
}

// MarkRefreshed records that the initial refresh has happened.
func MarkRefreshed(ctx context.Context, st Store) error {
	if err := st.PutMeta(ctx, store.MetaStudentsRefreshed, "1"); err != nil {
		return fmt.Errorf("failed to record refresh flag: %w", err)
	}
	return nil
}
