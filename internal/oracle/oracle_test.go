package oracle

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/cmatc13/stathera/internal/notes"
)

func signedObservation(t *testing.T, priv *btcec.PrivateKey, price uint64) Observation {
	t.Helper()
	msg := []byte("price-observation")
	sig := notes.Sign(priv, msg)
	return Observation{
		Price:     price,
		SignerID:  1,
		PubKey:    priv.PubKey().SerializeCompressed(),
		Signature: sig,
		Message:   msg,
	}
}

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return priv
}

func TestApplyOracleUpdateFirstUpdateRequiresValidSignature(t *testing.T) {
	s := New()
	priv := newKey(t)

	_, err := s.ApplyOracleUpdate(OracleUpdate{Token: 12345, Observations: []Observation{
		{Price: 50_000, Signature: []byte("garbage")},
	}})
	if err == nil {
		t.Fatalf("expected signature verification error on first update")
	}

	persistDue, err := s.ApplyOracleUpdate(OracleUpdate{Token: 12345, Observations: []Observation{
		signedObservation(t, priv, 50_000),
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persistDue {
		t.Fatalf("persist should not be due after a single update")
	}
	snap := s.Snapshot(12345)
	if snap.Latest != 50_000 || snap.Min != 50_000 || snap.Max != 50_000 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestApplyOracleUpdateInteriorObservationSkipsSignatureCheck(t *testing.T) {
	s := New()
	priv := newKey(t)
	s.ApplyOracleUpdate(OracleUpdate{Token: 1, Observations: []Observation{signedObservation(t, priv, 100)}})

	// Interior value between min and max: no valid signature needed.
	_, err := s.ApplyOracleUpdate(OracleUpdate{Token: 1, Observations: []Observation{
		{Price: 100, Signature: []byte("garbage")},
	}})
	if err != nil {
		t.Fatalf("interior updates must not require signature verification: %v", err)
	}
}

func TestApplyOracleUpdatePersistEveryTenUpdates(t *testing.T) {
	s := New()
	priv := newKey(t)
	var lastPersistDue bool
	for i := 0; i < 10; i++ {
		var err error
		lastPersistDue, err = s.ApplyOracleUpdate(OracleUpdate{Token: 1, Observations: []Observation{signedObservation(t, priv, 100)}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !lastPersistDue {
		t.Fatalf("expected persist due on the 10th update")
	}
}

func TestPriceExtremesMonotoneWithinBatch(t *testing.T) {
	s := New()
	priv := newKey(t)
	s.ApplyOracleUpdate(OracleUpdate{Token: 1, Observations: []Observation{signedObservation(t, priv, 100)}})
	s.ApplyOracleUpdate(OracleUpdate{Token: 1, Observations: []Observation{signedObservation(t, priv, 90)}})
	s.ApplyOracleUpdate(OracleUpdate{Token: 1, Observations: []Observation{signedObservation(t, priv, 120)}})

	snap := s.Snapshot(1)
	if snap.Min != 90 || snap.Max != 120 {
		t.Fatalf("expected min=90 max=120, got %+v", snap)
	}
}

func TestPerMinuteFundingUpdateClosesBucketAt480(t *testing.T) {
	s := New()
	s.currentFundingCount = 479
	s.runningSum[12345] = 0.2

	res := s.PerMinuteFundingUpdate([]ImpactQuote{{Token: 12345, ImpactBid: 100, ImpactAsk: 100, IndexPrice: 100}})
	if !res.BucketClosed {
		t.Fatalf("expected bucket to close on the 480th tick")
	}
	if s.CurrentFundingIdx() != 1 {
		t.Fatalf("expected current_funding_idx=1, got %d", s.CurrentFundingIdx())
	}
	rates := s.fundingRates[12345]
	if len(rates) != 1 {
		t.Fatalf("expected one appended funding rate, got %d", len(rates))
	}
	if got, want := rates[0], 0.2/480; got != want {
		t.Fatalf("expected funding rate %v, got %v", want, got)
	}
	if s.runningSum[12345] != 0 {
		t.Fatalf("expected running sum reset to 0")
	}
}

func TestFundingWindowTracksMinIdx(t *testing.T) {
	s := New()
	s.fundingRates[1] = []float64{0.1, 0.2, 0.3}
	s.fundingPrices[1] = []uint64{100, 200, 300}

	rates, prices := s.FundingWindow(1, 1)
	if len(rates) != 2 || len(prices) != 2 {
		t.Fatalf("expected window from idx 1, got %d rates", len(rates))
	}
	if mins := s.MinFundingIdxs(); mins[1] != 1 {
		t.Fatalf("expected min funding idx tracked at 1, got %+v", mins)
	}
}

func TestResetBatchClearsMinFundingIdxsOnly(t *testing.T) {
	s := New()
	s.fundingRates[1] = []float64{0.1}
	s.minFundingIdxs[1] = 0
	s.currentFundingIdx = 3

	s.ResetBatch()

	if len(s.MinFundingIdxs()) != 0 {
		t.Fatalf("expected min_funding_idxs cleared")
	}
	if s.CurrentFundingIdx() != 3 {
		t.Fatalf("current_funding_idx must survive reset")
	}
	if len(s.fundingRates[1]) != 1 {
		t.Fatalf("funding_rates must survive reset")
	}
}
