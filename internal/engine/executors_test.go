package engine

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/cmatc13/stathera/internal/matching"
	"github.com/cmatc13/stathera/internal/notes"
	"github.com/cmatc13/stathera/internal/orders"
	"github.com/cmatc13/stathera/internal/persistence"
	"github.com/spf13/afero"
)

func TestExecuteSpotSwapMovesNotesAndUnblocksOnFullFill(t *testing.T) {
	storage := persistence.NewMainStorage(afero.NewMemMapFs(), "/data")
	e := NewBatchEngine(storage)
	worker := e.beginWorker()
	ec := &ExecContext{SpotTree: e.SpotTree, PerpTree: e.PerpTree, Safeguard: e.Safeguard, Worker: worker, Trackers: e.Trackers, Updated: e.Updated}

	privA, _ := btcec.NewPrivateKey()
	pubA := privA.PubKey().SerializeCompressed()
	privB, _ := btcec.NewPrivateKey()
	pubB := privB.PubKey().SerializeCompressed()

	blinding, _ := notes.RandomBlinding()
	inputA := notes.New(1, pubA, 12345, 100, blinding)
	e.SpotTree.UpdateLeaf(inputA.Index, inputA.Hash)
	inputB := notes.New(2, pubB, 55555, 5_000_000, blinding)
	e.SpotTree.UpdateLeaf(inputB.Index, inputB.Hash)

	outputA := notes.New(3, pubA, 55555, 5_000_000, blinding)
	outputB := notes.New(4, pubB, 12345, 100, blinding)

	orderA := &orders.LimitOrder{ID: 10, TokenSpent: 12345, TokenReceived: 55555, AmountSpent: 100, AmountReceived: 5_000_000, UserID: 1}
	orderB := &orders.LimitOrder{ID: 11, TokenSpent: 55555, TokenReceived: 12345, AmountSpent: 5_000_000, AmountReceived: 100, UserID: 2}

	sigA := notes.Sign(privA, []byte(orderA.Hash()))
	sigB := notes.Sign(privB, []byte(orderB.Hash()))

	a := SpotFillInput{
		Order:       orderA,
		Signature:   sigA,
		OwnerPubKey: pubA,
		InputNotes:  []*notes.Note{inputA},
		OutputNote:  outputA,
	}
	b := SpotFillInput{
		Order:       orderB,
		Signature:   sigB,
		OwnerPubKey: pubB,
		InputNotes:  []*notes.Note{inputB},
		OutputNote:  outputB,
	}

	if err := ExecuteSpotSwap(ec, matching.Swap{}, a, b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := e.SpotTree.GetLeaf(inputA.Index); got != "" {
		t.Fatalf("expected input A leaf cleared, got %q", got)
	}
	if got := e.SpotTree.GetLeaf(outputA.Index); got != outputA.Hash {
		t.Fatalf("expected output A leaf written, got %q", got)
	}
	if e.Trackers.IsBlocked(orderA.ID) || e.Trackers.IsBlocked(orderB.ID) {
		t.Fatalf("expected both orders unblocked after full fill")
	}
}

func TestExecuteSpotSwapRejectsBadSignature(t *testing.T) {
	storage := persistence.NewMainStorage(afero.NewMemMapFs(), "/data")
	e := NewBatchEngine(storage)
	worker := e.beginWorker()
	ec := &ExecContext{SpotTree: e.SpotTree, PerpTree: e.PerpTree, Safeguard: e.Safeguard, Worker: worker, Trackers: e.Trackers, Updated: e.Updated}

	privA, _ := btcec.NewPrivateKey()
	pubA := privA.PubKey().SerializeCompressed()
	otherPriv, _ := btcec.NewPrivateKey()

	blinding, _ := notes.RandomBlinding()
	inputA := notes.New(1, pubA, 12345, 100, blinding)
	e.SpotTree.UpdateLeaf(inputA.Index, inputA.Hash)

	orderA := &orders.LimitOrder{ID: 10, UserID: 1}
	badSig := notes.Sign(otherPriv, []byte(orderA.Hash()))

	a := SpotFillInput{Order: orderA, Signature: badSig, OwnerPubKey: pubA, InputNotes: []*notes.Note{inputA}}
	b := SpotFillInput{Order: &orders.LimitOrder{ID: 11}, OwnerPubKey: pubA, InputNotes: nil}

	if err := ExecuteSpotSwap(ec, matching.Swap{}, a, b); err == nil {
		t.Fatalf("expected signature verification error")
	}
}

func TestExecuteNoteSplitConservesAmount(t *testing.T) {
	storage := persistence.NewMainStorage(afero.NewMemMapFs(), "/data")
	e := NewBatchEngine(storage)
	worker := e.beginWorker()
	ec := &ExecContext{SpotTree: e.SpotTree, PerpTree: e.PerpTree, Safeguard: e.Safeguard, Worker: worker, Trackers: e.Trackers, Updated: e.Updated}

	owner, _ := btcec.NewPrivateKey()
	pub := owner.PubKey().SerializeCompressed()
	blinding, _ := notes.RandomBlinding()

	input := notes.New(5, pub, 12345, 100, blinding)
	e.SpotTree.UpdateLeaf(input.Index, input.Hash)

	out0 := notes.New(5, pub, 12345, 60, blinding)
	out1 := &notes.Note{Owner: pub, Token: 12345, Amount: 40, Blinding: blinding}
	out1.Hash = out1.CalculateHash()

	written, err := ExecuteNoteSplit(ec, []*notes.Note{input}, [2]*notes.Note{out0, out1}, e.SpotTree.FirstZeroIndex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("expected 2 written indices, got %d", len(written))
	}
	if got := e.SpotTree.GetLeaf(written[0]); got != out0.Hash {
		t.Fatalf("expected first output leaf written")
	}
}

func TestExecuteNoteSplitRejectsConservationViolation(t *testing.T) {
	storage := persistence.NewMainStorage(afero.NewMemMapFs(), "/data")
	e := NewBatchEngine(storage)
	worker := e.beginWorker()
	ec := &ExecContext{SpotTree: e.SpotTree, PerpTree: e.PerpTree, Safeguard: e.Safeguard, Worker: worker, Trackers: e.Trackers, Updated: e.Updated}

	pub := []byte{0x02}
	blinding, _ := notes.RandomBlinding()
	input := &notes.Note{Index: 1, Owner: pub, Token: 12345, Amount: 100, Blinding: blinding}
	out0 := &notes.Note{Owner: pub, Token: 12345, Amount: 60, Blinding: blinding}
	out1 := &notes.Note{Owner: pub, Token: 12345, Amount: 50, Blinding: blinding}

	_, err := ExecuteNoteSplit(ec, []*notes.Note{input}, [2]*notes.Note{out0, out1}, e.SpotTree.FirstZeroIndex)
	if err == nil {
		t.Fatalf("expected conservation violation error")
	}
}
