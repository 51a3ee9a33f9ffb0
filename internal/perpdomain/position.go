// Package perpdomain implements the PerpPosition data model and the funding
// settlement applied to it on every perp swap or liquidation (spec §3, §4.D).
//
// Grounded on the teacher's internal/wallet.Wallet (commitment hashing,
// signature verification over btcec/ecdsa) and internal/ledger.Ledger
// (signed-balance bookkeeping, reused here for margin deltas).
package perpdomain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cmatc13/stathera/internal/notes"
	domainerrors "github.com/cmatc13/stathera/pkg/errors"
)

// PerpPosition is a perpetual-futures position (spec §3).
type PerpPosition struct {
	Owner           []byte `json:"owner"`
	SyntheticToken  uint64 `json:"synthetic_token"`
	Size            int64  `json:"size"` // signed: positive long, negative short
	EntryPrice      uint64 `json:"entry_price"`
	Margin          uint64 `json:"margin"`
	LastFundingIdx  uint64 `json:"last_funding_idx"`
	PositionIndex   uint64 `json:"position_index"`
}

// Hash is the commitment identifying the position on the Perpetual Tree.
func (p *PerpPosition) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%x|%d|%d|%d|%d|%d", p.Owner, p.SyntheticToken, p.Size, p.EntryPrice, p.Margin, p.LastFundingIdx)
	return hex.EncodeToString(h.Sum(nil))
}

// IsClosed reports whether the position's size has reached zero, at which
// point the Batch Engine removes it from the Perpetual Tree.
func (p *PerpPosition) IsClosed() bool { return p.Size == 0 }

// IsLong reports the position's current side.
func (p *PerpPosition) IsLong() bool { return p.Size > 0 }

// SwapFundingInfo is the funding rate/price window a perp swap or
// liquidation applies against an existing position, captured at dispatch
// time from the Engine-thread-only funding state (spec §4.D Perp Swap).
type SwapFundingInfo struct {
	// FundingRates[i] / FundingPrices[i] are the realized funding rate and
	// index price for funding index (LastFundingIdx + i), in order.
	FundingRates  []float64
	FundingPrices []uint64
}

// ApplyFunding settles accrued funding payments into the position's margin
// and advances its funding bookmark to the batch's current funding index.
// A long position pays funding when the rate is positive, shorts receive it
// (and vice-versa), following the standard perpetual-funding convention.
func (p *PerpPosition) ApplyFunding(info SwapFundingInfo, currentFundingIdx uint64) (paid int64) {
	if len(info.FundingRates) == 0 {
		p.LastFundingIdx = currentFundingIdx
		return 0
	}

	sizeF := float64(p.Size)
	for i, rate := range info.FundingRates {
		price := info.FundingPrices[i]
		payment := rate * sizeF * float64(price)
		paid += int64(payment)
	}

	if paid > 0 {
		if uint64(paid) >= p.Margin {
			p.Margin = 0
		} else {
			p.Margin -= uint64(paid)
		}
	} else if paid < 0 {
		p.Margin += uint64(-paid)
	}

	p.LastFundingIdx = currentFundingIdx
	return paid
}

// MarginChange is a signed request to add or remove collateral from an
// existing position (spec §4.D Margin Change).
type MarginChange struct {
	PositionIndex uint64          `json:"position_index"`
	Delta         int64           `json:"delta"` // positive: deposit; negative: withdraw
	Signature     notes.Signature `json:"signature"`
	// RefundNoteIndex is set when a positive-delta change's input notes
	// overshoot the requested delta and a refund note must be created.
	RefundNoteIndex *uint64 `json:"refund_note_index,omitempty"`
}

// ApplyMarginChange mutates the position's margin in place, following spec
// §4.D: positive delta increases margin, negative delta decreases it, and a
// decrease larger than the margin returns an error without changing it (the
// caller is responsible for creating the corresponding collateral note moves
// on the Spot Tree and for writing the new Hash()).
func (p *PerpPosition) ApplyMarginChange(delta int64) error {
	if delta >= 0 {
		p.Margin += uint64(delta)
		return nil
	}
	abs := uint64(-delta)
	if abs > p.Margin {
		return domainerrors.NewEngineError(domainerrors.EngineErrMarginInsufficient, "margin change would underflow position margin", nil)
	}
	p.Margin -= abs
	return nil
}
