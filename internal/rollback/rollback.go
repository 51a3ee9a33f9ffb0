// Package rollback implements the Rollback Safeguard (spec §4.B): a journal
// of tree mutations keyed by worker identity, drained on commit or replayed
// in reverse on abort.
package rollback

import (
	"sync"

	"github.com/cmatc13/stathera/internal/statetree"
)

// WorkerID identifies one in-flight transaction attempt. The Batch Engine
// hands out a fresh WorkerID per dispatched transaction; it is not a Go
// goroutine id (Go exposes none), just an attempt-scoped token.
type WorkerID uint64

// TreeKind distinguishes the spot and perpetual trees for a journal entry.
type TreeKind int

const (
	SpotTree TreeKind = iota
	PerpTree
)

// LeafSnapshot records a leaf's value immediately before a worker overwrote it.
type LeafSnapshot struct {
	Kind     TreeKind
	Index    uint64
	Previous string
}

// Record is one worker's journal: every leaf it touched (in insertion
// order, so abort can replay in reverse), the tracker keys and blocked
// order ids it added during the attempt.
type Record struct {
	Leaves      []LeafSnapshot
	TrackerKeys []uint64
	BlockedIDs  []uint64
}

// Safeguard owns one journal per worker identity.
type Safeguard struct {
	mu      sync.Mutex
	records map[WorkerID]*Record
}

// New creates an empty safeguard.
func New() *Safeguard {
	return &Safeguard{records: make(map[WorkerID]*Record)}
}

// Begin opens a fresh journal for a worker. It panics if the worker already
// has an open journal, since that would indicate a reused identity.
func (s *Safeguard) Begin(id WorkerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		panic("rollback: worker identity already has an open journal")
	}
	s.records[id] = &Record{}
}

// RecordLeaf appends a pre-mutation leaf snapshot to the worker's journal.
func (s *Safeguard) RecordLeaf(id WorkerID, kind TreeKind, index uint64, previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[id]
	rec.Leaves = append(rec.Leaves, LeafSnapshot{Kind: kind, Index: index, Previous: previous})
}

// RecordTrackerKey notes that a partial-fill tracker entry was added for
// this worker's order id during the attempt.
func (s *Safeguard) RecordTrackerKey(id WorkerID, orderID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[id]
	rec.TrackerKeys = append(rec.TrackerKeys, orderID)
}

// RecordBlockedID notes that an order id was marked busy by this worker.
func (s *Safeguard) RecordBlockedID(id WorkerID, orderID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[id]
	rec.BlockedIDs = append(rec.BlockedIDs, orderID)
}

// Commit drains and discards a worker's journal on success.
func (s *Safeguard) Commit(id WorkerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// TreeUpdater is the subset of statetree.Tree needed to replay a rollback.
type TreeUpdater interface {
	UpdateLeaf(index uint64, newHash string) (oldHash string, siblings []string)
}

// Trackers groups the shared mutable state an abort must also restore,
// besides the trees themselves.
type Trackers struct {
	// DeleteTrackerKey removes a partial-fill tracker entry added mid-attempt.
	DeleteTrackerKey func(orderID uint64)
	// Unblock clears the busy flag for an order id.
	Unblock func(orderID uint64)
}

// Abort replays a worker's journal against spot and perp in reverse
// insertion order, clears any tracker entries it added, and unblocks any
// order ids it marked busy. After Abort returns, the trees, trackers and
// blocked-order set are byte-identical to their pre-attempt state.
func (s *Safeguard) Abort(id WorkerID, spot, perp TreeUpdater, tr Trackers) {
	s.mu.Lock()
	rec, ok := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	for i := len(rec.Leaves) - 1; i >= 0; i-- {
		leaf := rec.Leaves[i]
		switch leaf.Kind {
		case SpotTree:
			spot.UpdateLeaf(leaf.Index, leaf.Previous)
		case PerpTree:
			perp.UpdateLeaf(leaf.Index, leaf.Previous)
		}
	}

	if tr.DeleteTrackerKey != nil {
		for _, key := range rec.TrackerKeys {
			tr.DeleteTrackerKey(key)
		}
	}
	if tr.Unblock != nil {
		for _, id := range rec.BlockedIDs {
			tr.Unblock(id)
		}
	}
}

var _ TreeUpdater = (*statetree.Tree)(nil)
