package evaluator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/criteria"
	"github.com/danielpatrickdp/segment-replay/internal/metrics"
)

// #region types
// requestKey names one request. index is the criterion's tree index so nested levels of
// the same segment never share a result.
type requestKey struct {
	ordinal int
	index   int
}

// slot is the cache index of list[i]: its tree index, or the batch position when unnumbered.
func slot(list []*criteria.Criterion, i int) int {
	if n := list[i].Index(); n > 0 {
		return n
	}
	return i
}

// batchKey names a whole batch by its first criterion.
func batchKey(ordinal int, list []*criteria.Criterion) requestKey {
	if len(list) == 0 {
		return requestKey{ordinal: ordinal}
	}
	return requestKey{ordinal: ordinal, index: slot(list, 0)}
}

type pendingRequest struct {
	id     uint64
	cancel context.CancelFunc
}

// requestTracker is the request/result cache of one CV evaluator.
// A key is absent, in flight (cancel stored) or has results (a failure stores an empty slice).
// All cache access happens under mu. reported is guarded separately so a caller can
// read the last reasons without waiting on mu.
type requestTracker[R any] struct {
	name string

	mu       sync.Mutex
	nextID   uint64
	inFlight map[requestKey]pendingRequest
	results  map[requestKey][]R

	reportMu sync.Mutex
	reported map[requestKey][]string
}

func newRequestTracker[R any](name string) *requestTracker[R] {
	return &requestTracker[R]{
		name:     name,
		inFlight: make(map[requestKey]pendingRequest),
		results:  make(map[requestKey][]R),
		reported: make(map[requestKey][]string),
	}
}
// #endregion types

// #region dispatch
// dispatchLocked starts one request for k. mu must be held.
// The cancel token exists and is stored before the goroutine starts, so a concurrent
// cleanup can always cancel it.
func (t *requestTracker[R]) dispatchLocked(k requestKey, timeout time.Duration, call func(ctx context.Context) ([]R, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.nextID++
	id := t.nextID
	t.inFlight[k] = pendingRequest{id: id, cancel: cancel}
	metrics.SetCVInFlight(t.name, len(t.inFlight))
	go t.await(ctx, cancel, k, id, call)
}

func (t *requestTracker[R]) await(ctx context.Context, cancel context.CancelFunc, k requestKey, id uint64, call func(ctx context.Context) ([]R, error)) {
	defer cancel()
	res, err := call(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.inFlight[k]
	if !ok || p.id != id {
		// cleaned up or superseded while in flight
		return
	}
	delete(t.inFlight, k)
	metrics.SetCVInFlight(t.name, len(t.inFlight))
	if err != nil {
		log.Printf("[CV] (%d) - %s - request failed: %v", k.ordinal, t.name, err)
		t.results[k] = []R{}
		return
	}
	if res == nil {
		res = []R{}
	}
	t.results[k] = res
}
// #endregion dispatch

// #region cleanup
// cleanupLocked cancels and forgets everything for one ordinal. mu must be held.
func (t *requestTracker[R]) cleanupLocked(ordinal int) {
	for k, p := range t.inFlight {
		if k.ordinal == ordinal {
			p.cancel()
			delete(t.inFlight, k)
		}
	}
	for k := range t.results {
		if k.ordinal == ordinal {
			delete(t.results, k)
		}
	}
	metrics.SetCVInFlight(t.name, len(t.inFlight))
	t.reportMu.Lock()
	for k := range t.reported {
		if k.ordinal == ordinal {
			delete(t.reported, k)
		}
	}
	t.reportMu.Unlock()
}

// resetLocked cancels and forgets everything. mu must be held.
func (t *requestTracker[R]) resetLocked() {
	for _, p := range t.inFlight {
		p.cancel()
	}
	t.inFlight = make(map[requestKey]pendingRequest)
	t.results = make(map[requestKey][]R)
	metrics.SetCVInFlight(t.name, 0)
	t.reportMu.Lock()
	t.reported = make(map[requestKey][]string)
	t.reportMu.Unlock()
}

func (t *requestTracker[R]) cleanup(ordinal int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanupLocked(ordinal)
}

func (t *requestTracker[R]) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}
// #endregion cleanup

// #region reporting
// report stores reasons as the last known outcome for the batch k and returns them.
func (t *requestTracker[R]) report(k requestKey, reasons []string) []string {
	t.reportMu.Lock()
	defer t.reportMu.Unlock()
	t.reported[k] = append([]string(nil), reasons...)
	return reasons
}

// lastReported returns the last reasons for the batch k if they line up with n criteria,
// otherwise n copies of fallback.
func (t *requestTracker[R]) lastReported(k requestKey, n int, fallback string) []string {
	t.reportMu.Lock()
	defer t.reportMu.Unlock()
	if prior, ok := t.reported[k]; ok && len(prior) == n && len(Unmatched(prior)) > 0 {
		return append([]string(nil), prior...)
	}
	return fill(n, fallback)
}
// #endregion reporting
