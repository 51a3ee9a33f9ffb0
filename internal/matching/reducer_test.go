package matching

import (
	"testing"

	domainerrors "github.com/cmatc13/stathera/pkg/errors"
)

func TestProcessSpotMatchingResult_Empty(t *testing.T) {
	if _, err := ProcessSpotMatchingResult(nil); err == nil {
		t.Fatalf("expected error for empty result")
	}
}

func TestProcessSpotMatchingResult_AcceptedOnly(t *testing.T) {
	res, err := ProcessSpotMatchingResult([]Result{{Kind: KindAccepted, OrderID: 9}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NewOrderID != 9 || len(res.Swaps) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestProcessSpotMatchingResult_Cancelled(t *testing.T) {
	res, err := ProcessSpotMatchingResult([]Result{{Kind: KindCancelled, OrderID: 9}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Swaps) != 0 {
		t.Fatalf("cancelled order should produce no swaps")
	}
}

func TestProcessSpotMatchingResult_SingleFailed(t *testing.T) {
	_, err := ProcessSpotMatchingResult([]Result{{Kind: KindFailed, Failure: &Failed{Kind: FailedNoMatch, Context: "no match"}}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domainerrors.IsMatchingError(err, domainerrors.MatchingErrNoMatch) {
		t.Fatalf("expected wrapped MatchingErrNoMatch, got %v", err)
	}
}

func TestProcessSpotMatchingResult_EvenLengthWithFailure(t *testing.T) {
	r := []Result{
		{Kind: KindAccepted, OrderID: 1},
		{Kind: KindFilled, Side: SideAsk, Qty: 10, UserID: 1},
		{Kind: KindFailed, Failure: &Failed{Kind: FailedTooMuchSlippage, Context: "slippage"}},
		{Kind: KindFilled, Side: SideBid, QuoteQty: 100, UserID: 2},
	}
	_, err := ProcessSpotMatchingResult(r)
	if err == nil {
		t.Fatalf("expected error for even-length result")
	}
	if !domainerrors.IsMatchingError(err, domainerrors.MatchingErrTooMuchSlippage) {
		t.Fatalf("expected the embedded Failed to surface, got %v", err)
	}
}

func TestProcessSpotMatchingResult_EvenLengthNoFailure(t *testing.T) {
	r := []Result{
		{Kind: KindAccepted, OrderID: 1},
		{Kind: KindFilled, Side: SideAsk, Qty: 10, UserID: 1},
	}
	if _, err := ProcessSpotMatchingResult(r); err == nil {
		t.Fatalf("expected length error for even-length result with no Failed entries")
	}
}

// TestProcessSpotMatchingResult_OneToOneSwap mirrors spec §8 scenario S2: a
// single aggressor order crosses a single resting order.
func TestProcessSpotMatchingResult_OneToOneSwap(t *testing.T) {
	r := []Result{
		{Kind: KindAccepted, OrderID: 1},
		{Kind: KindFilled, Side: SideBid, Qty: 2_000_000, Price: 50_000, QuoteQty: 0, UserID: 100, OrderRef: "orderA"},
		{Kind: KindFilled, Side: SideAsk, Qty: 2_000_000, UserID: 200, OrderRef: "orderB"},
	}
	res, err := ProcessSpotMatchingResult(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Swaps) != 1 {
		t.Fatalf("expected exactly one swap, got %d", len(res.Swaps))
	}
	sw := res.Swaps[0]
	wantSpentA := CalculateQuoteAmount(0, 0, 2_000_000, 50_000)
	if sw.Swap.SpentA != wantSpentA {
		t.Fatalf("expected quote-amount fallback %d, got %d", wantSpentA, sw.Swap.SpentA)
	}
	// i=0 in the fills loop => first parsed leg (the bid, order A) takes the fee.
	if sw.Swap.FeeA != floorFee(sw.Swap.SpentB) {
		t.Fatalf("expected taker fee on A = floor(spentB*0.0005), got %d want %d", sw.Swap.FeeA, floorFee(sw.Swap.SpentB))
	}
	if sw.Swap.FeeB != 0 {
		t.Fatalf("maker side B must pay zero fee, got %d", sw.Swap.FeeB)
	}
	if sw.UserA != 100 || sw.UserB != 200 {
		t.Fatalf("unexpected user ids: %+v", sw)
	}
}

func TestFeeLaw_FloorNotRound(t *testing.T) {
	// 1999 * 0.0005 = 0.9995, must floor to 0, not round to 1.
	if fee := floorFee(1999); fee != 0 {
		t.Fatalf("expected floor(1999*0.0005)=0, got %d", fee)
	}
	if fee := floorFee(2000); fee != 1 {
		t.Fatalf("expected floor(2000*0.0005)=1, got %d", fee)
	}
}

func TestProcessPerpMatchingResult_SharesPairingLogic(t *testing.T) {
	r := []Result{
		{Kind: KindAccepted, OrderID: 5},
		{Kind: KindFilled, Side: SideBid, QuoteQty: 1000, UserID: 1},
		{Kind: KindFilled, Side: SideAsk, Qty: 1000, UserID: 2},
	}
	res, err := ProcessPerpMatchingResult(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Swaps) != 1 {
		t.Fatalf("expected one perp swap, got %d", len(res.Swaps))
	}
}
