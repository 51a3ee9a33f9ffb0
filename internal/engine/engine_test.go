package engine

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/cmatc13/stathera/internal/notes"
	"github.com/cmatc13/stathera/internal/persistence"
	"github.com/cmatc13/stathera/internal/rollback"
	"github.com/spf13/afero"

	domainerrors "github.com/cmatc13/stathera/pkg/errors"
)

func newTestEngine(t *testing.T) *BatchEngine {
	t.Helper()
	storage := persistence.NewMainStorage(afero.NewMemMapFs(), "/data")
	e := NewBatchEngine(storage)
	return e
}

func newOwnerKey(t *testing.T) []byte {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return priv.PubKey().SerializeCompressed()
}

func (e *BatchEngine) trackersAdapter() rollback.Trackers {
	return rollback.Trackers{
		DeleteTrackerKey: func(orderID uint64) {
			e.Trackers.DeleteSpotPartial(orderID)
			e.Trackers.DeletePerpPartial(orderID)
		},
		Unblock: e.Trackers.Unblock,
	}
}

func TestExecuteDepositRejectsNonEmptyLeaf(t *testing.T) {
	e := newTestEngine(t)
	owner := newOwnerKey(t)
	blinding, _ := notes.RandomBlinding()
	n := notes.New(3, owner, 12345, 100, blinding)

	worker := e.beginWorker()
	ec := &ExecContext{SpotTree: e.SpotTree, PerpTree: e.PerpTree, Safeguard: e.Safeguard, Worker: worker, Trackers: e.Trackers, Updated: e.Updated}

	if err := ExecuteDeposit(ec, []*notes.Note{n}); err != nil {
		t.Fatalf("unexpected error on first deposit: %v", err)
	}
	e.Safeguard.Commit(worker)
	if got := e.SpotTree.GetLeaf(3); got != n.Hash {
		t.Fatalf("expected leaf 3 to hold deposit hash, got %q", got)
	}

	worker2 := e.beginWorker()
	ec2 := &ExecContext{SpotTree: e.SpotTree, PerpTree: e.PerpTree, Safeguard: e.Safeguard, Worker: worker2, Trackers: e.Trackers, Updated: e.Updated}
	err := ExecuteDeposit(ec2, []*notes.Note{n})
	if !domainerrors.IsEngineError(err, domainerrors.EngineErrNoteHashMismatch) {
		t.Fatalf("expected EngineErrNoteHashMismatch, got %v", err)
	}
	e.Safeguard.Abort(worker2, e.SpotTree, e.PerpTree, e.trackersAdapter())
}

func TestRollbackAbortRestoresLeafAndUnblocks(t *testing.T) {
	e := newTestEngine(t)
	owner := newOwnerKey(t)
	blinding, _ := notes.RandomBlinding()
	n := notes.New(5, owner, 12345, 200, blinding)

	worker := e.beginWorker()
	e.Trackers.TryBlock(99)
	e.Safeguard.RecordBlockedID(worker, 99)

	ec := &ExecContext{SpotTree: e.SpotTree, PerpTree: e.PerpTree, Safeguard: e.Safeguard, Worker: worker, Trackers: e.Trackers, Updated: e.Updated}
	if err := ExecuteDeposit(ec, []*notes.Note{n}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e.Safeguard.Abort(worker, e.SpotTree, e.PerpTree, e.trackersAdapter())

	if got := e.SpotTree.GetLeaf(5); got != "" {
		t.Fatalf("expected leaf 5 restored to zero hash, got %q", got)
	}
	if e.Trackers.IsBlocked(99) {
		t.Fatalf("expected order 99 unblocked after abort")
	}
}

func TestDispatchTriggersFinalizeAtThreshold(t *testing.T) {
	e := newTestEngine(t)
	e.threshold = 2

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		idx := uint64(i)
		ch := e.Dispatch(KindOther, func(ec *ExecContext) error {
			owner := newOwnerKey(t)
			blinding, _ := notes.RandomBlinding()
			n := notes.New(idx, owner, 12345, 10, blinding)
			return ExecuteDeposit(ec, []*notes.Note{n})
		})
		go func() {
			<-ch
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	if c := e.CurrentCounters(); c.RunningTxCount != 0 {
		t.Fatalf("expected counters reset after finalize, got %+v", c)
	}
}
