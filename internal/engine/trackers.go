// Package engine implements the Transaction Executors and the Batch Engine
// itself (spec §4.D, §4.E): per-transaction-kind mutation routines run on
// worker goroutines against the shared state trees, orchestrated by a
// single supervising goroutine that owns counters, funding state, and price
// maps.
package engine

import "sync"

// SpotFillTracker records a spot order's partial-fill progress (spec §3
// Partial-Fill Tracker).
type SpotFillTracker struct {
	RefundNoteIndex  *uint64
	CumulativeFilled uint64
}

// PerpFillTracker records a perp order's partial-fill progress.
type PerpFillTracker struct {
	RefundNoteIndex  *uint64
	CumulativeFilled uint64
	CumulativeMargin uint64
}

// Trackers owns the partial-fill maps and the blocked-order set shared
// across workers (spec §3, §5: short critical section per lookup/insert).
type Trackers struct {
	mu          sync.Mutex
	spotPartial map[uint64]SpotFillTracker
	perpPartial map[uint64]PerpFillTracker
	blocked     map[uint64]bool
}

// NewTrackers creates empty tracker state.
func NewTrackers() *Trackers {
	return &Trackers{
		spotPartial: make(map[uint64]SpotFillTracker),
		perpPartial: make(map[uint64]PerpFillTracker),
		blocked:     make(map[uint64]bool),
	}
}

// TryBlock marks orderID busy, returning false if it was already busy (the
// caller must fail fast with DuplicateOrderID per spec §5).
func (t *Trackers) TryBlock(orderID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.blocked[orderID] {
		return false
	}
	t.blocked[orderID] = true
	return true
}

// Unblock clears orderID's busy flag.
func (t *Trackers) Unblock(orderID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.blocked, orderID)
}

// IsBlocked reports whether orderID is currently busy.
func (t *Trackers) IsBlocked(orderID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blocked[orderID]
}

// SpotPartial reads a spot order's partial-fill tracker, if any.
func (t *Trackers) SpotPartial(orderID uint64) (SpotFillTracker, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.spotPartial[orderID]
	return tr, ok
}

// SetSpotPartial records or updates a spot order's partial-fill progress.
func (t *Trackers) SetSpotPartial(orderID uint64, tr SpotFillTracker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spotPartial[orderID] = tr
}

// DeleteSpotPartial removes a spot order's partial-fill tracker entry.
func (t *Trackers) DeleteSpotPartial(orderID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.spotPartial, orderID)
}

// PerpPartial reads a perp order's partial-fill tracker, if any.
func (t *Trackers) PerpPartial(orderID uint64) (PerpFillTracker, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.perpPartial[orderID]
	return tr, ok
}

// SetPerpPartial records or updates a perp order's partial-fill progress.
func (t *Trackers) SetPerpPartial(orderID uint64, tr PerpFillTracker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perpPartial[orderID] = tr
}

// DeletePerpPartial removes a perp order's partial-fill tracker entry.
func (t *Trackers) DeletePerpPartial(orderID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.perpPartial, orderID)
}

// UpdatedHashes accumulates the leaf writes one batch has made, consulted
// at finalize time to build the bulk-update transcript (spec §3 Batch
// Counters / §4.E finalize_batch step 3).
type UpdatedHashes struct {
	mu        sync.Mutex
	notes     map[uint64]string
	positions map[uint64]string
}

// NewUpdatedHashes creates an empty accumulator.
func NewUpdatedHashes() *UpdatedHashes {
	return &UpdatedHashes{notes: make(map[uint64]string), positions: make(map[uint64]string)}
}

// SetNote records that leaf index on the Spot Tree now holds hash.
func (u *UpdatedHashes) SetNote(index uint64, hash string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notes[index] = hash
}

// SetPosition records that leaf index on the Perpetual Tree now holds hash.
func (u *UpdatedHashes) SetPosition(index uint64, hash string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.positions[index] = hash
}

// Notes returns a copy of the accumulated note-hash updates.
func (u *UpdatedHashes) Notes() map[uint64]string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[uint64]string, len(u.notes))
	for k, v := range u.notes {
		out[k] = v
	}
	return out
}

// Positions returns a copy of the accumulated position-hash updates.
func (u *UpdatedHashes) Positions() map[uint64]string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[uint64]string, len(u.positions))
	for k, v := range u.positions {
		out[k] = v
	}
	return out
}

// Reset clears both maps (spec §4.G reset on finalize).
func (u *UpdatedHashes) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notes = make(map[uint64]string)
	u.positions = make(map[uint64]string)
}
