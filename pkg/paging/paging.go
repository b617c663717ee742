// Package paging tracks per-conversation backward-history pagination: the
// opaque cursor, the has-more flag, and the single-flight fetch guard. The
// lifecycle is modelled as an explicit state machine so that illegal
// transitions (a second fetch while one is pending, a fetch after
// exhaustion) are structurally no-ops rather than scattered flag checks.
package paging

import (
	"sync"

	"github.com/qmuntal/stateless"
)

// States.
const (
	StateIdle      = "idle"      // no fetch issued yet for this conversation
	StateFetching  = "fetching"  // a fetch is in flight
	StateReady     = "ready"     // at least one page landed, more may exist
	StateExhausted = "exhausted" // terminal until the conversation is re-selected
)

// Triggers.
const (
	triggerFetch = "fetch"
	triggerPage  = "page"  // a page with a next cursor arrived
	triggerEnd   = "end"   // no next cursor, or an empty load-more page
	triggerFail  = "fail"  // fetch errored; timeline left unchanged
	triggerReset = "reset" // conversation switched
)

// Tracker is the cursor state for one conversation.
type Tracker struct {
	mu          sync.Mutex
	sm          *stateless.StateMachine
	cursor      string
	fetchedOnce bool
}

// New returns a Tracker in the idle state with no cursor.
func New() *Tracker {
	t := &Tracker{}
	sm := stateless.NewStateMachine(StateIdle)

	sm.Configure(StateIdle).
		Permit(triggerFetch, StateFetching).
		PermitReentry(triggerReset)

	sm.Configure(StateFetching).
		Permit(triggerPage, StateReady).
		Permit(triggerEnd, StateExhausted).
		Permit(triggerFail, StateReady).
		Permit(triggerReset, StateIdle)

	sm.Configure(StateReady).
		Permit(triggerFetch, StateFetching).
		Permit(triggerReset, StateIdle)

	sm.Configure(StateExhausted).
		Permit(triggerReset, StateIdle)

	t.sm = sm
	return t
}

// TryBeginFetch attempts to start a fetch; it reports false while another
// fetch is pending or the conversation is exhausted, making overlapping
// backward fetches a no-op.
func (t *Tracker) TryBeginFetch() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sm.Fire(triggerFetch); err != nil {
		return false
	}
	return true
}

// Advance records a fetch response: a next cursor keeps paging open, its
// absence (or an empty page) is the terminal no-more-history state.
func (t *Tracker) Advance(nextCursor string, emptyPage bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fetchedOnce = true
	if nextCursor == "" || emptyPage {
		t.cursor = ""
		_ = t.sm.Fire(triggerEnd)
		return
	}
	t.cursor = nextCursor
	_ = t.sm.Fire(triggerPage)
}

// Fail aborts the in-flight fetch without consuming the cursor.
func (t *Tracker) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.sm.Fire(triggerFail)
}

// Reset returns to the initial state; called when the conversation identity
// changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursor = ""
	t.fetchedOnce = false
	_ = t.sm.Fire(triggerReset)
}

// Cursor returns the opaque token for the next backward fetch.
func (t *Tracker) Cursor() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// HasMore reports whether further backward fetches may yield messages.
func (t *Tracker) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sm.MustState() != StateExhausted
}

// FetchedOnce reports whether an initial fetch has completed; repeated
// selection effects use this as an idempotent guard.
func (t *Tracker) FetchedOnce() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fetchedOnce
}

// Fetching reports whether a fetch is currently in flight.
func (t *Tracker) Fetching() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sm.MustState() == StateFetching
}

// State exposes the current state name, mainly for logging.
func (t *Tracker) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sm.MustState().(string)
}
