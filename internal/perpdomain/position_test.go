package perpdomain

import "testing"

func TestApplyFundingLongPaysPositiveRate(t *testing.T) {
	p := &PerpPosition{Size: 10, Margin: 1000, LastFundingIdx: 4}
	info := SwapFundingInfo{FundingRates: []float64{0.001}, FundingPrices: []uint64{50_000}}

	paid := p.ApplyFunding(info, 5)
	if paid <= 0 {
		t.Fatalf("expected a long position to pay positive funding, got %d", paid)
	}
	if p.Margin >= 1000 {
		t.Fatalf("expected margin to decrease after paying funding, got %d", p.Margin)
	}
	if p.LastFundingIdx != 5 {
		t.Fatalf("expected funding bookmark advanced to 5, got %d", p.LastFundingIdx)
	}
}

func TestApplyFundingNoWindowAdvancesBookmarkOnly(t *testing.T) {
	p := &PerpPosition{Size: 10, Margin: 1000, LastFundingIdx: 5}
	paid := p.ApplyFunding(SwapFundingInfo{}, 5)
	if paid != 0 || p.Margin != 1000 {
		t.Fatalf("expected no-op when no funding window elapsed, got paid=%d margin=%d", paid, p.Margin)
	}
}

func TestApplyMarginChangePositiveAndNegative(t *testing.T) {
	p := &PerpPosition{Margin: 100}
	if err := p.ApplyMarginChange(50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Margin != 150 {
		t.Fatalf("expected margin 150, got %d", p.Margin)
	}
	if err := p.ApplyMarginChange(-200); err == nil {
		t.Fatalf("expected underflow error")
	}
	if err := p.ApplyMarginChange(-150); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Margin != 0 {
		t.Fatalf("expected margin 0, got %d", p.Margin)
	}
}

func TestIsClosedAndIsLong(t *testing.T) {
	p := &PerpPosition{Size: 5}
	if p.IsClosed() || !p.IsLong() {
		t.Fatalf("expected open long position")
	}
	p.Size = 0
	if !p.IsClosed() {
		t.Fatalf("expected closed position at size zero")
	}
}
