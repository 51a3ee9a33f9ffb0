package engine

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/spf13/afero"

	"github.com/cmatc13/stathera/internal/notes"
	"github.com/cmatc13/stathera/internal/perpdomain"
	"github.com/cmatc13/stathera/internal/persistence"
)

// TestMarginChangeSeedsMinFundingIdx guards against the bug where
// min_funding_idxs was only ever read (always empty) at finalize time and
// never seeded from the transaction-execution path for margin changes.
func TestMarginChangeSeedsMinFundingIdx(t *testing.T) {
	storage := persistence.NewMainStorage(afero.NewMemMapFs(), "/data")
	e := NewBatchEngine(storage)

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	owner := priv.PubKey().SerializeCompressed()

	position := &perpdomain.PerpPosition{
		Owner:          owner,
		SyntheticToken: 12345,
		Size:           10,
		EntryPrice:     1000,
		Margin:         500,
		LastFundingIdx: 3,
		PositionIndex:  0,
	}
	sig := notes.Sign(priv, []byte(position.Hash()))
	change := &perpdomain.MarginChange{PositionIndex: 0, Delta: 100, Signature: sig}

	blinding, _ := notes.RandomBlinding()
	input := notes.New(1, owner, 55555, 100, blinding)
	worker := e.beginWorker()
	ec := &ExecContext{SpotTree: e.SpotTree, PerpTree: e.PerpTree, Safeguard: e.Safeguard, Worker: worker, Trackers: e.Trackers, Updated: e.Updated, Log: e.Log, Oracle: e.Oracle}
	ec.SpotTree.UpdateLeaf(input.Index, input.Hash)

	if err := ExecuteMarginChange(ec, change, position, owner, []*notes.Note{input}, nil, nil, ec.SpotTree.FirstZeroIndex); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	minIdxs := e.Oracle.MinFundingIdxs()
	got, ok := minIdxs[12345]
	if !ok {
		t.Fatalf("expected min_funding_idxs to be seeded for token 12345, got %+v", minIdxs)
	}
	if got != 3 {
		t.Fatalf("expected seeded min funding idx to be the position's LastFundingIdx (3), got %d", got)
	}

	records := e.Log.Records()
	found := false
	for _, rec := range records {
		if rec.TransactionType == "margin_change" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a margin_change transaction record, got %+v", records)
	}
}
