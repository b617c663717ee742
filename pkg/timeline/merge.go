// Package timeline maintains per-conversation message timelines: merging
// batches from any source into a stable, chronologically ordered,
// de-duplicated sequence, and owning the per-conversation session state
// (cursor tracking, single-flight guards).
package timeline

import (
	"sort"
	"time"

	"fpchat/pkg/matchkey"
	"fpchat/pkg/models"
	"fpchat/pkg/telemetry"
)

// InsertDirection says which end of the timeline non-conflicting records are
// anchored near. The dedup and supersession rules are identical either way;
// chronological order is restored by the final sort regardless.
type InsertDirection string

const (
	Append  InsertDirection = "append"
	Prepend InsertDirection = "prepend"
)

// DefaultSkew is how far apart a local-echo stamp and the server stamp for
// the same event may drift and still be recognized as a log/server pair when
// their bucketed keys disagree.
const DefaultSkew = 5 * time.Second

// Merger merges incoming batches into timelines. It is stateless and safe
// for concurrent use.
type Merger struct {
	keys matchkey.Generator
	skew time.Duration
}

// NewMerger returns a Merger; skew <= 0 falls back to DefaultSkew.
func NewMerger(keys matchkey.Generator, skew time.Duration) Merger {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return Merger{keys: keys, skew: skew}
}

// merge state over a working slice. Indices address the slice; a consumed
// log record is one already superseded within this merge step.
type mergeState struct {
	mg       Merger
	working  []models.CanonicalMessage
	ids      map[string]struct{}
	serverBy map[string]int   // bucketed key -> index, server records
	logBy    map[string][]int // bucketed key -> indices, log records
	serverCK map[string][]int // content key -> indices, server records
	logCK    map[string][]int // content key -> indices, log records
	consumed map[int]struct{}
}

// Merge produces the next timeline from the existing one and a batch of
// newly normalized records. It is idempotent (re-applying a batch is a
// no-op) and commutative for batches with disjoint match keys.
func (mg Merger) Merge(existing, incoming []models.CanonicalMessage, dir InsertDirection) []models.CanonicalMessage {
	st := &mergeState{
		mg:       mg,
		working:  make([]models.CanonicalMessage, 0, len(existing)+len(incoming)),
		ids:      make(map[string]struct{}, len(existing)+len(incoming)),
		serverBy: map[string]int{},
		logBy:    map[string][]int{},
		serverCK: map[string][]int{},
		logCK:    map[string][]int{},
		consumed: map[int]struct{}{},
	}

	for _, m := range existing {
		if m.Kind == models.KindHidden {
			continue
		}
		st.index(len(st.working), m)
		st.working = append(st.working, m)
	}

	origCount := len(st.working)
	for _, m := range incoming {
		if m.Kind == models.KindHidden {
			telemetry.MergeRecords.WithLabelValues("hidden").Inc()
			continue
		}
		if _, dup := st.ids[m.ID]; dup {
			telemetry.MergeRecords.WithLabelValues("dedup_id").Inc()
			continue
		}
		if m.IsServer() {
			if st.applyServer(m) {
				continue
			}
		} else {
			if st.applyLog(m) {
				telemetry.MergeRecords.WithLabelValues("dropped_log").Inc()
				continue
			}
		}
		// Net-new.
		st.index(len(st.working), m)
		st.working = append(st.working, m)
		telemetry.MergeRecords.WithLabelValues("appended").Inc()
	}

	// Anchor net-new records at the requested end before the ordering sort;
	// this only decides ties between records with equal (or missing)
	// timestamps.
	var out []models.CanonicalMessage
	if dir == Prepend {
		out = append(out, st.working[origCount:]...)
		out = append(out, st.working[:origCount]...)
	} else {
		out = append(out, st.working...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return before(out[i].CreatedAt, out[j].CreatedAt)
	})
	return out
}

// applyServer handles an authoritative incoming record. Returns true when
// the record was fully handled (dropped or superseded in place).
func (st *mergeState) applyServer(m models.CanonicalMessage) bool {
	k := st.mg.keys.Key(m)
	if _, owned := st.serverBy[k]; owned {
		// Retried fetch or overlapping page: server already owns this key.
		telemetry.MergeRecords.WithLabelValues("dedup_key").Inc()
		return true
	}
	// Supersession: an optimistic echo with the same key, or the same
	// content within the skew tolerance, is upgraded in place.
	if idx, ok := st.pickLog(st.logBy[k], m, false); ok {
		st.supersede(idx, m)
		return true
	}
	ck := st.mg.keys.ContentKey(m)
	if idx, ok := st.pickLog(st.logCK[ck], m, true); ok {
		st.supersede(idx, m)
		return true
	}
	return false
}

// applyLog handles a provisional incoming record. Returns true when it must
// be dropped because an authoritative record already owns its identity.
func (st *mergeState) applyLog(m models.CanonicalMessage) bool {
	k := st.mg.keys.Key(m)
	if _, owned := st.serverBy[k]; owned {
		return true
	}
	if len(st.logBy[k]) > 0 {
		// Duplicate echo of an existing provisional record.
		return true
	}
	ck := st.mg.keys.ContentKey(m)
	for _, idx := range st.serverCK[ck] {
		if idx < len(st.working) && withinSkew(st.working[idx].CreatedAt, m.CreatedAt, st.mg.skew) {
			return true
		}
	}
	return false
}

// pickLog finds the first unconsumed provisional record among candidates; a
// checkSkew candidate must also sit within the skew tolerance.
func (st *mergeState) pickLog(candidates []int, m models.CanonicalMessage, checkSkew bool) (int, bool) {
	for _, idx := range candidates {
		if _, done := st.consumed[idx]; done {
			continue
		}
		if idx >= len(st.working) {
			continue
		}
		if checkSkew && !withinSkew(st.working[idx].CreatedAt, m.CreatedAt, st.mg.skew) {
			continue
		}
		return idx, true
	}
	return 0, false
}

// supersede replaces the provisional record at idx with the authoritative
// one, keeping its slice position until the final sort.
func (st *mergeState) supersede(idx int, m models.CanonicalMessage) {
	telemetry.MergeRecords.WithLabelValues("superseded").Inc()
	st.consumed[idx] = struct{}{}
	st.working[idx] = m
	st.ids[m.ID] = struct{}{}
	st.serverBy[st.mg.keys.Key(m)] = idx
	st.serverCK[st.mg.keys.ContentKey(m)] = append(st.serverCK[st.mg.keys.ContentKey(m)], idx)
}

func (st *mergeState) index(idx int, m models.CanonicalMessage) {
	st.ids[m.ID] = struct{}{}
	k := st.mg.keys.Key(m)
	ck := st.mg.keys.ContentKey(m)
	if m.IsServer() {
		st.serverBy[k] = idx
		st.serverCK[ck] = append(st.serverCK[ck], idx)
	} else {
		st.logBy[k] = append(st.logBy[k], idx)
		st.logCK[ck] = append(st.logCK[ck], idx)
	}
}

func withinSkew(a, b time.Time, skew time.Duration) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= skew
}

// before orders timestamps with the zero time lowest; equal stamps keep
// their relative order through the stable sort.
func before(a, b time.Time) bool {
	if a.IsZero() {
		return !b.IsZero()
	}
	if b.IsZero() {
		return false
	}
	return a.Before(b)
}
