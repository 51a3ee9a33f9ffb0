package ingest

import (
	"github.com/cmatc13/stathera/internal/engine"
	"github.com/cmatc13/stathera/internal/matching"
	"github.com/cmatc13/stathera/internal/notes"
	domainerrors "github.com/cmatc13/stathera/pkg/errors"
)

// NoteStore resolves the notes an executor needs by leaf index, the
// storage-layer lookup a real deployment backs with the Spot Tree's leaf
// map plus an off-tree note-detail index (owner/token/amount/blinding
// aren't recoverable from a leaf hash alone).
type NoteStore interface {
	Note(index uint64) (*notes.Note, bool)
	FirstZeroIndex() uint64
}

// BatchAdapter implements ingest.SwapExecutor against a live BatchEngine.
// It dispatches deposits and withdrawals (withdrawal input notes are looked
// up in the NoteStore); DispatchSpotSwap and DispatchPerpSwap do not resolve
// a matching.SwapMatch into executor inputs and always report an error.
type BatchAdapter struct {
	Engine *engine.BatchEngine
	Notes  NoteStore
}

func (a *BatchAdapter) DispatchDeposit(req DepositRequest) <-chan error {
	blinding, err := notes.RandomBlinding()
	if err != nil {
		ch := make(chan error, 1)
		ch <- err
		return ch
	}
	n := notes.New(req.NoteIndex, req.Owner, req.Token, req.Amount, blinding)
	return a.Engine.Dispatch(engine.KindDeposit, func(ec *engine.ExecContext) error {
		return engine.ExecuteDeposit(ec, []*notes.Note{n})
	})
}

func (a *BatchAdapter) DispatchWithdrawal(req WithdrawalRequest) <-chan error {
	return a.Engine.Dispatch(engine.KindWithdrawal, func(ec *engine.ExecContext) error {
		store := a.Notes
		if store == nil {
			store = NoopNoteStore{}
		}
		inputs := make([]*notes.Note, 0, len(req.InputNoteIndexes))
		for _, idx := range req.InputNoteIndexes {
			n, ok := store.Note(idx)
			if !ok {
				return domainerrors.NewEngineError(domainerrors.EngineErrNoteHashMismatch, "withdrawal references an unknown note", nil)
			}
			inputs = append(inputs, n)
		}
		return engine.ExecuteWithdrawal(ec, inputs, nil)
	})
}

// NoopNoteStore is the zero-value NoteStore: every lookup misses. It lets
// BatchAdapter be constructed before a concrete note-index service exists,
// failing withdrawals cleanly instead of nil-pointer panicking.
type NoopNoteStore struct{}

func (NoopNoteStore) Note(uint64) (*notes.Note, bool) { return nil, false }
func (NoopNoteStore) FirstZeroIndex() uint64          { return 0 }

// DispatchSpotSwap would build a SpotFillInput pair from the reduced swap's
// order/signature data and the NoteStore, then call engine.ExecuteSpotSwap.
// Resolving the input/output/refund note set for each side requires a
// concrete order-book integration (which notes a given order spends) that
// has no grounding in this deployment's corpus, so this dispatches a stub
// failure instead of fabricating that resolution.
func (a *BatchAdapter) DispatchSpotSwap(swap matching.SwapMatch) <-chan error {
	return a.Engine.Dispatch(engine.KindOther, func(ec *engine.ExecContext) error {
		return domainerrors.NewEngineError(domainerrors.EngineErrInsufficientAmount, "spot swap note resolution requires order-book wiring not present in this deployment", nil)
	})
}

func (a *BatchAdapter) DispatchPerpSwap(swap matching.SwapMatch) <-chan error {
	return a.Engine.Dispatch(engine.KindOther, func(ec *engine.ExecContext) error {
		return domainerrors.NewEngineError(domainerrors.EngineErrInsufficientAmount, "perp swap note resolution requires order-book wiring not present in this deployment", nil)
	})
}
