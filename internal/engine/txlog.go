package engine

import (
	"sync"

	"github.com/cmatc13/stathera/internal/persistence"
)

// TxLog accumulates one JSON record per completed transaction, in the order
// executors append them, forming the "transactions" array of the
// finalize_batch bundle (spec §4.E step 6, §6 transaction JSON transcript
// schema). It mirrors UpdatedHashes' engine-owned, worker-touched shape: any
// worker goroutine may append, only the supervising thread drains it.
type TxLog struct {
	mu      sync.Mutex
	records []persistence.Record
}

// NewTxLog creates an empty transaction log.
func NewTxLog() *TxLog {
	return &TxLog{}
}

// Append records one completed transaction. Safe to call on a nil *TxLog so
// callers that construct an ExecContext without a Log (as existing tests
// do) keep working unchanged.
func (l *TxLog) Append(rec persistence.Record) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Records returns a copy of the accumulated transcript, in append order.
func (l *TxLog) Records() []persistence.Record {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]persistence.Record, len(l.records))
	copy(out, l.records)
	return out
}

// Reset clears the log (spec §4.G reset on finalize: the in-memory
// transcript has been folded into the bundle and flushed).
func (l *TxLog) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}
