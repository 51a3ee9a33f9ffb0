package persistence

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"

	"github.com/cmatc13/stathera/internal/statetree"
)

func newTestStorage() *MainStorage {
	return NewMainStorage(afero.NewMemMapFs(), "/data")
}

func TestAppendAndReadAllTranscript(t *testing.T) {
	m := newTestStorage()
	if err := m.AppendRecord(Record{TransactionType: "deposit", Payload: json.RawMessage(`{"index":7}`)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.AppendRecord(Record{TransactionType: "withdrawal", Payload: json.RawMessage(`{"index":8}`)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := m.ReadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].TransactionType != "deposit" || records[1].TransactionType != "withdrawal" {
		t.Fatalf("unexpected record order: %+v", records)
	}
}

func TestReadAllOnMissingTranscriptReturnsEmpty(t *testing.T) {
	m := newTestStorage()
	records, err := m.ReadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records != nil {
		t.Fatalf("expected nil records on missing file, got %v", records)
	}
}

func TestClearTranscript(t *testing.T) {
	m := newTestStorage()
	m.AppendRecord(Record{TransactionType: "deposit"})
	if err := m.ClearTranscript(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records, err := m.ReadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected transcript cleared, got %d records", len(records))
	}
}

func TestStoreAndReadFunding(t *testing.T) {
	m := newTestStorage()
	info := FundingInfoFile{
		FundingRates:   map[uint64][]float64{12345: {0.1, 0.2}},
		FundingPrices:  map[uint64][]uint64{12345: {50000, 51000}},
		MinFundingIdxs: map[uint64]uint64{12345: 0},
	}
	if err := m.StoreFunding(info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := m.ReadFunding()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.FundingRates[12345]) != 2 {
		t.Fatalf("unexpected funding info round trip: %+v", got)
	}
}

func TestStoreAndLoadSpotTree(t *testing.T) {
	m := newTestStorage()
	tr := statetree.New(4)
	tr.UpdateLeaf(2, "aa")
	snap := tr.ToSnapshot()

	if err := m.StoreSpotTree(snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, err := m.LoadSpotTree()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Leaves[2] != "aa" {
		t.Fatalf("unexpected loaded snapshot: %+v", loaded)
	}
}
