// Package orders holds the immutable order-intent and settlement-record
// types shared by the spot and perpetual transaction executors (spec §3).
//
// Grounded on the teacher's internal/orderbook.Order (field layout, JSON
// tags) and internal/wallet.Wallet (signature type), generalized from the
// teacher's float64 price/amount fields to the fixed-point uint64 amounts
// the batch engine's Merkle leaves require.
package orders

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cmatc13/stathera/internal/notes"
)

// LimitOrder is an immutable spot order intent (spec §3).
type LimitOrder struct {
	ID             uint64          `json:"id"`
	TokenSpent     uint64          `json:"token_spent"`
	TokenReceived  uint64          `json:"token_received"`
	AmountSpent    uint64          `json:"amount_spent"`
	AmountReceived uint64          `json:"amount_received"`
	Expiration     int64           `json:"expiration"`
	UserID         uint64          `json:"user_id"`
	Signature      notes.Signature `json:"signature"`
}

// Hash returns the commitment identifying this order for signature checks.
func (o *LimitOrder) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%d|%d|%d|%d|%d", o.ID, o.TokenSpent, o.TokenReceived, o.AmountSpent, o.AmountReceived, o.Expiration, o.UserID)
	return hex.EncodeToString(h.Sum(nil))
}

// PerpOrder is an immutable perpetual order intent (spec §3).
type PerpOrder struct {
	ID              uint64          `json:"id"`
	SyntheticToken  uint64          `json:"synthetic_token"`
	CollateralToken uint64          `json:"collateral_token"`
	IsLong          bool            `json:"is_long"`
	AmountCollateral uint64         `json:"amount_collateral"`
	AmountSynthetic  uint64         `json:"amount_synthetic"`
	Leverage        uint64          `json:"leverage"`
	Expiration      int64           `json:"expiration"`
	UserID          uint64          `json:"user_id"`
	Signature       notes.Signature `json:"signature"`
}

// Hash returns the commitment identifying this order for signature checks.
func (o *PerpOrder) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%d|%t|%d|%d|%d|%d|%d", o.ID, o.SyntheticToken, o.CollateralToken, o.IsLong, o.AmountCollateral, o.AmountSynthetic, o.Leverage, o.Expiration, o.UserID)
	return hex.EncodeToString(h.Sum(nil))
}

// Swap is a settlement record joining two spot orders, written once to the
// transcript (spec §3 Swap/PerpSwap).
type Swap struct {
	OrderA    *LimitOrder     `json:"order_a"`
	OrderB    *LimitOrder     `json:"order_b"`
	SignatureA notes.Signature `json:"signature_a"`
	SignatureB notes.Signature `json:"signature_b"`
	SpentA    uint64          `json:"spent_a"`
	SpentB    uint64          `json:"spent_b"`
	FeeA      uint64          `json:"fee_a"`
	FeeB      uint64          `json:"fee_b"`
}

// PerpSwap is a settlement record joining two perp orders.
type PerpSwap struct {
	OrderA     *PerpOrder      `json:"order_a"`
	OrderB     *PerpOrder      `json:"order_b"`
	SignatureA notes.Signature `json:"signature_a"`
	SignatureB notes.Signature `json:"signature_b"`
	SpentA     uint64          `json:"spent_a"`
	SpentB     uint64          `json:"spent_b"`
	FeeA       uint64          `json:"fee_a"`
	FeeB       uint64          `json:"fee_b"`
}
