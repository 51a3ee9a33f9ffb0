// Package matching implements the Matching Result Reducer (spec §4.C): it
// turns the raw sequence of outcomes the order book produced for one
// submitted order into pairwise settlement objects.
//
// Grounded on original_source/invisible_backend/src/server/server_helpers/mod.rs
// (proccess_spot_matching_result), generalized to cover both spot and perp
// fills via FillSide/Kind rather than two separate Rust enums.
package matching

import (
	"github.com/cmatc13/stathera/internal/notes"
	domainerrors "github.com/cmatc13/stathera/pkg/errors"
)

// Side mirrors the order book's notion of aggressor direction for a fill.
type Side int

const (
	// SideAsk: the filled leg is selling the base asset.
	SideAsk Side = iota
	// SideBid: the filled leg is buying the base asset.
	SideBid
)

// Kind enumerates the shapes an order-book outcome can take.
type Kind int

const (
	KindAccepted Kind = iota
	KindCancelled
	KindAmended
	KindFilled
	KindFailed
)

// FailedKind enumerates the order-book failure taxonomy (spec §6).
type FailedKind int

const (
	FailedValidation FailedKind = iota
	FailedDuplicateOrderID
	FailedNoMatch
	FailedOrderNotFound
	FailedTooMuchSlippage
)

// Failed carries a failure kind plus human-readable context.
type Failed struct {
	Kind    FailedKind
	Context string
}

// Result is one element of the order-book's result sequence R for a single
// submitted order.
type Result struct {
	Kind Kind

	// Accepted / Cancelled / Amended
	OrderID uint64

	// Filled
	Side            Side
	Price           uint64
	Qty             uint64
	QuoteQty        uint64
	UserID          uint64
	PartiallyFilled bool
	Signature       notes.Signature
	TokenSpent      uint64 // the filled order's token spent, for calculateQuoteAmount
	TokenReceived   uint64 // the filled order's token received, for calculateQuoteAmount
	OrderRef        any    // the underlying LimitOrder/PerpOrder, opaque to the reducer

	// Failed
	Failure *Failed
}

// Swap is a settlement record joining two fills.
type Swap struct {
	OrderA, OrderB   any
	SignatureA       notes.Signature
	SignatureB       notes.Signature
	SpentA, SpentB   uint64
	FeeA, FeeB       uint64
}

// SwapMatch pairs a Swap with the user ids of its two sides.
type SwapMatch struct {
	Swap   Swap
	UserA  uint64
	UserB  uint64
}

// ProcessedResult is the reducer's output.
type ProcessedResult struct {
	Swaps      []SwapMatch
	NewOrderID uint64
}

func errInvalid(code, msg string) error {
	return domainerrors.NewMatchingError(code, msg, nil)
}

func failedCode(kind FailedKind) string {
	switch kind {
	case FailedDuplicateOrderID:
		return domainerrors.MatchingErrDuplicateOrderID
	case FailedNoMatch:
		return domainerrors.MatchingErrNoMatch
	case FailedOrderNotFound:
		return domainerrors.MatchingErrOrderNotFound
	case FailedTooMuchSlippage:
		return domainerrors.MatchingErrTooMuchSlippage
	default:
		return domainerrors.MatchingErrValidationFailed
	}
}

func errFromFailed(f *Failed) error {
	err := domainerrors.NewMatchingError(failedCode(f.Kind), f.Context, nil)
	return domainerrors.WrapWithField(err, "failed_kind", f.Kind)
}

// feeRateBps is the 5 basis point maker/taker fee rate shared by spot and
// perp swaps (spec §4.C rule 4).
const feeRateBps = 0.0005

func floorFee(amount uint64) uint64 {
	return uint64(float64(amount) * feeRateBps)
}

// CalculateQuoteAmount converts a base-asset qty at a given price into the
// implied quote amount, used whenever a Filled bid-side fill's quote_qty is
// not supplied by the order book. Pinned to floor division at a 6-decimal
// price scale (see SPEC_FULL.md / DESIGN.md — the source's rounding
// direction was unspecified).
func CalculateQuoteAmount(tokenReceived, tokenSpent, qty, price uint64) uint64 {
	const priceScale = 1_000_000
	return (qty * price) / priceScale
}

// leg is one parsed Filled fill, carrying everything needed to build a Swap.
type leg struct {
	order     any
	signature notes.Signature
	spent     uint64
	userID    uint64
	takeFee   bool
}

// ProcessSpotMatchingResult reduces a spot order's result sequence into
// settlement swaps. ProcessPerpMatchingResult below reuses the same pairing
// logic and differs only in fee basis.
func ProcessSpotMatchingResult(r []Result) (*ProcessedResult, error) {
	return processMatchingResult(r, false)
}

// ProcessPerpMatchingResult reduces a perp order's result sequence. Both
// fees are computed against spent_collateral, the buyer (A) leg's spent
// amount, at the same 5-bps rate as spot.
func ProcessPerpMatchingResult(r []Result) (*ProcessedResult, error) {
	return processMatchingResult(r, true)
}

func processMatchingResult(r []Result, perp bool) (*ProcessedResult, error) {
	if len(r) == 0 {
		return nil, errInvalid(domainerrors.MatchingErrInvalidOrDuplicateOrder, "invalid or duplicate order")
	}

	if len(r) == 1 {
		switch r[0].Kind {
		case KindAccepted:
			return &ProcessedResult{Swaps: nil, NewOrderID: r[0].OrderID}, nil
		case KindCancelled, KindAmended:
			return &ProcessedResult{Swaps: nil, NewOrderID: 0}, nil
		case KindFailed:
			return nil, errFromFailed(r[0].Failure)
		default:
			return nil, errInvalid(domainerrors.MatchingErrInvalidResponse, "invalid matching response")
		}
	}

	if len(r)%2 == 0 {
		for _, res := range r {
			if res.Kind == KindFailed {
				return nil, errFromFailed(res.Failure)
			}
		}
		return nil, errInvalid(domainerrors.MatchingErrInvalidResponseLength, "invalid matching response length")
	}

	var newOrderID uint64
	switch r[0].Kind {
	case KindAccepted:
		newOrderID = r[0].OrderID
	case KindFailed:
		return nil, errFromFailed(r[0].Failure)
	default:
		return nil, errInvalid(domainerrors.MatchingErrInvalidResponse, "invalid matching response")
	}

	var aOrders, bOrders []leg
	for i, res := range r[1:] {
		if res.Kind == KindFailed {
			return nil, errFromFailed(res.Failure)
		}
		if res.Kind != KindFilled {
			return nil, errInvalid(domainerrors.MatchingErrInvalidResponse, "invalid matching response: expected Filled")
		}

		takeFee := i%2 == 0
		if res.Side == SideAsk {
			bOrders = append(bOrders, leg{
				order:     res.OrderRef,
				signature: res.Signature,
				spent:     res.Qty,
				userID:    res.UserID,
				takeFee:   takeFee,
			})
		} else {
			spent := res.QuoteQty
			if spent == 0 {
				spent = CalculateQuoteAmount(res.TokenReceived, res.TokenSpent, res.Qty, res.Price)
			}
			aOrders = append(aOrders, leg{
				order:     res.OrderRef,
				signature: res.Signature,
				spent:     spent,
				userID:    res.UserID,
				takeFee:   takeFee,
			})
		}
	}

	n := len(aOrders)
	if len(bOrders) < n {
		n = len(bOrders)
	}

	swaps := make([]SwapMatch, 0, n)
	for i := 0; i < n; i++ {
		a, b := aOrders[i], bOrders[i]

		feeBasisA := b.spent
		if perp {
			feeBasisA = a.spent
		}
		var feeA, feeB uint64
		if a.takeFee {
			feeA = floorFee(feeBasisA)
		}
		if b.takeFee {
			feeB = floorFee(a.spent)
		}

		swaps = append(swaps, SwapMatch{
			Swap: Swap{
				OrderA:     a.order,
				OrderB:     b.order,
				SignatureA: a.signature,
				SignatureB: b.signature,
				SpentA:     a.spent,
				SpentB:     b.spent,
				FeeA:       feeA,
				FeeB:       feeB,
			},
			UserA: a.userID,
			UserB: b.userID,
		})
	}

	return &ProcessedResult{Swaps: swaps, NewOrderID: newOrderID}, nil
}
