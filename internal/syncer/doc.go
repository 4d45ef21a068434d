// Package syncer drains the local transaction queue into the remote authority.
//
// Overview
//
// A sync is one linear pass:
//
//	Settings + connectivity  →  precondition gates (no network on failure)
//	      ↓
//	Queue snapshot           →  ordered records, set of txn_ids
//	      ↓
//	POST ?route=transactions →  {"transactions":[...]} as text/plain
//	      ↓
//	ok=true                  →  delete exactly the snapshot ids
//	anything else            →  queue untouched, error returned
//
// Nothing is retried automatically. The next trigger (an explicit sync, a
// reconnect, a settings change or a new record) simply submits the whole queue
// again; the remote deduplicates on txn_id, so re-submission is safe.
//
// Usage
//
//	engine := syncer.New(syncer.Options{
//	    Store:    st,
//	    Remote:   remote.New(remote.Options{}),
//	    Settings: config.NewStore(path),
//	    Network:  monitor,
//	})
//	res, err := engine.Sync(ctx)
//	var pre *syncer.PreconditionError
//	if errors.As(err, &pre) {
//	    // offline, missing staff id or missing endpoint
//	}
//
// Concurrency
//
// Sync is safe for concurrent use. By default overlapping calls are
// independent: both may submit the same records and both delete what was
// acknowledged, which the remote's idempotency makes harmless. With
// Options.Coalesce, concurrent callers share the in-flight pass and a call
// arriving while a pass is running schedules one follow-up pass, so records
// enqueued during the request are still picked up.
//
// Records enqueued after the snapshot are never deleted by that pass, even
// when its request succeeds.
package syncer
