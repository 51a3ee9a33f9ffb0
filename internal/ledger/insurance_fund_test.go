package ledger

import "testing"

type fixedTimeOracle struct{ t int64 }

func (f fixedTimeOracle) Now() int64              { return f.t }
func (f fixedTimeOracle) Validate(ts int64) error { return nil }

func TestInsuranceFundSettleCreditAndDebit(t *testing.T) {
	fund, err := NewInsuranceFund(0, fixedTimeOracle{t: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := fund.Settle(500, "liquidation surplus"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fund.Balance() != 500 {
		t.Fatalf("expected balance 500, got %d", fund.Balance())
	}

	if err := fund.Settle(-800, "liquidation shortfall"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fund.Balance() != -300 {
		t.Fatalf("expected balance -300, got %d", fund.Balance())
	}

	ok, err := fund.VerifyIntegrity()
	if err != nil || !ok {
		t.Fatalf("expected valid chain, got ok=%v err=%v", ok, err)
	}
}
