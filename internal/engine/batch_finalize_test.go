package engine

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"

	"github.com/cmatc13/stathera/internal/notes"
	"github.com/cmatc13/stathera/internal/persistence"
)

// TestFinalizeBatchTranscriptIsNonDegenerate guards against the bug where
// finalize_batch ran BatchTransition on the same live tree the executors
// had already mutated, producing OldHash == NewHash for every entry.
func TestFinalizeBatchTranscriptIsNonDegenerate(t *testing.T) {
	fs := afero.NewMemMapFs()
	storage := persistence.NewMainStorage(fs, "/data")
	e := NewBatchEngine(storage)

	owner := newOwnerKey(t)
	blinding, _ := notes.RandomBlinding()
	n := notes.New(3, owner, 12345, 100, blinding)

	worker := e.beginWorker()
	ec := &ExecContext{SpotTree: e.SpotTree, PerpTree: e.PerpTree, Safeguard: e.Safeguard, Worker: worker, Trackers: e.Trackers, Updated: e.Updated, Log: e.Log, Oracle: e.Oracle}
	if err := ExecuteDeposit(ec, []*notes.Note{n}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Safeguard.Commit(worker)

	if err := e.FinalizeBatch(); err != nil {
		t.Fatalf("unexpected error from FinalizeBatch: %v", err)
	}

	data, err := afero.ReadFile(fs, persistence.DefaultBundleOutputPath)
	if err != nil {
		t.Fatalf("expected bundle file to exist: %v", err)
	}
	var bundle FinalizeBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		t.Fatalf("bundle did not parse as JSON: %v", err)
	}

	if len(bundle.Preimage) == 0 {
		t.Fatalf("expected a non-empty spot preimage")
	}
	found := false
	for _, upd := range bundle.Preimage {
		if upd.Index == 3 {
			found = true
			if upd.OldHash == upd.NewHash {
				t.Fatalf("expected leaf 3's old/new hash to differ, got %q == %q", upd.OldHash, upd.NewHash)
			}
			if upd.OldHash != "" {
				t.Fatalf("expected leaf 3's pre-batch hash to be the zero hash, got %q", upd.OldHash)
			}
			if upd.NewHash != n.Hash {
				t.Fatalf("expected leaf 3's post-batch hash to be the deposited note hash, got %q", upd.NewHash)
			}
		}
	}
	if !found {
		t.Fatalf("expected leaf 3 to appear in the spot preimage, got %+v", bundle.Preimage)
	}

	if bundle.GlobalDexState.InitSpotRoot == bundle.GlobalDexState.FinalSpotRoot {
		t.Fatalf("expected the spot root to change across the batch")
	}
}

// TestFinalizeBatchBundleTopLevelKeys verifies the written bundle carries
// every top-level key the downstream prover requires (spec §8 S6).
func TestFinalizeBatchBundleTopLevelKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	storage := persistence.NewMainStorage(fs, "/data")
	e := NewBatchEngine(storage)

	owner := newOwnerKey(t)
	blinding, _ := notes.RandomBlinding()
	n := notes.New(9, owner, 12345, 50, blinding)

	worker := e.beginWorker()
	ec := &ExecContext{SpotTree: e.SpotTree, PerpTree: e.PerpTree, Safeguard: e.Safeguard, Worker: worker, Trackers: e.Trackers, Updated: e.Updated, Log: e.Log, Oracle: e.Oracle}
	if err := ExecuteDeposit(ec, []*notes.Note{n}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Safeguard.Commit(worker)
	e.mu.Lock()
	e.counters.NDeposits++
	e.mu.Unlock()

	if err := e.FinalizeBatch(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := afero.ReadFile(fs, persistence.DefaultBundleOutputPath)
	if err != nil {
		t.Fatalf("expected bundle file to exist: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("bundle did not parse as a JSON object: %v", err)
	}
	for _, key := range []string{
		"global_dex_state", "global_config", "funding_info", "price_info",
		"transactions", "preimage", "perpetual_preimage",
	} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("expected bundle to have top-level key %q, got %+v", key, raw)
		}
	}

	var txs []persistence.Record
	if err := json.Unmarshal(raw["transactions"], &txs); err != nil {
		t.Fatalf("transactions did not parse: %v", err)
	}
	found := false
	for _, rec := range txs {
		if rec.TransactionType == "deposit" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a deposit record in transactions, got %+v", txs)
	}

	var dexState GlobalDexState
	if err := json.Unmarshal(raw["global_dex_state"], &dexState); err != nil {
		t.Fatalf("global_dex_state did not parse: %v", err)
	}
	if dexState.NDeposits != 1 {
		t.Fatalf("expected NDeposits=1, got %+v", dexState)
	}
	if dexState.NOutputNotes != 1 {
		t.Fatalf("expected NOutputNotes=1, got %+v", dexState)
	}
}
