package engine

import (
	"encoding/json"

	"github.com/cmatc13/stathera/internal/matching"
	"github.com/cmatc13/stathera/internal/notes"
	"github.com/cmatc13/stathera/internal/oracle"
	"github.com/cmatc13/stathera/internal/orders"
	"github.com/cmatc13/stathera/internal/perpdomain"
	"github.com/cmatc13/stathera/internal/persistence"
	"github.com/cmatc13/stathera/internal/rollback"
	"github.com/cmatc13/stathera/internal/statetree"
	domainerrors "github.com/cmatc13/stathera/pkg/errors"
)

// ExecContext is the per-transaction handle an executor uses to mutate
// state: the two trees, the worker's rollback journal, the shared
// tracker/updated-hash/transaction-log accumulators, and a read handle onto
// the oracle/funding state. Executors call Oracle.FundingWindow (which
// reads the rate/price window and seeds min_funding_idxs) and
// Oracle.CurrentFundingIdx; the funding state guards both with its own lock.
type ExecContext struct {
	SpotTree  *statetree.Tree
	PerpTree  *statetree.Tree
	Safeguard *rollback.Safeguard
	Worker    rollback.WorkerID
	Trackers  *Trackers
	Updated   *UpdatedHashes
	Log       *TxLog
	Oracle    *oracle.State
}

// appendRecord marshals payload and appends it to ec.Log under transaction
// type kind, matching the transcript schema restore_state depends on (spec
// §6). Marshal errors are swallowed into an empty payload rather than
// failing an otherwise-successful transaction, since the log entry is
// informational to the prover bundle, not load-bearing for tree state.
func (ec *ExecContext) appendRecord(kind string, payload interface{}) {
	data, _ := json.Marshal(payload)
	ec.Log.Append(persistence.Record{TransactionType: kind, Payload: data})
}

// depositRecord is the "deposit" transaction-log payload (spec §6
// transaction JSON transcript schema).
type depositRecord struct {
	Notes []*notes.Note `json:"notes"`
}

// ExecuteDeposit adds notes at the given indices, asserting each target
// leaf is currently empty (spec §4.D Deposit).
func ExecuteDeposit(ec *ExecContext, deposits []*notes.Note) error {
	for _, n := range deposits {
		old := ec.SpotTree.GetLeaf(n.Index)
		if old != statetree.ZeroHash {
			return domainerrors.NewEngineError(domainerrors.EngineErrNoteHashMismatch, "deposit target leaf is not empty", nil)
		}
		oldHash, _ := ec.SpotTree.UpdateLeaf(n.Index, n.Hash)
		ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, n.Index, oldHash)
		ec.Updated.SetNote(n.Index, n.Hash)
	}
	ec.appendRecord("deposit", depositRecord{Notes: deposits})
	return nil
}

// withdrawalRecord is the "withdrawal" transaction-log payload.
type withdrawalRecord struct {
	Inputs []*notes.Note `json:"inputs"`
	Refund *notes.Note   `json:"refund,omitempty"`
}

// ExecuteWithdrawal asserts the input notes match current leaves, zeros
// them, and optionally writes one refund note (spec §4.D Withdrawal).
func ExecuteWithdrawal(ec *ExecContext, inputs []*notes.Note, refund *notes.Note) error {
	for _, n := range inputs {
		if ec.SpotTree.GetLeaf(n.Index) != n.Hash {
			return domainerrors.NewEngineError(domainerrors.EngineErrNoteHashMismatch, "withdrawal input note hash mismatch", nil)
		}
	}
	for _, n := range inputs {
		oldHash, _ := ec.SpotTree.UpdateLeaf(n.Index, statetree.ZeroHash)
		ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, n.Index, oldHash)
		ec.Updated.SetNote(n.Index, statetree.ZeroHash)
	}
	if refund != nil {
		oldHash, _ := ec.SpotTree.UpdateLeaf(refund.Index, refund.Hash)
		ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, refund.Index, oldHash)
		ec.Updated.SetNote(refund.Index, refund.Hash)
	}
	ec.appendRecord("withdrawal", withdrawalRecord{Inputs: inputs, Refund: refund})
	return nil
}

// ExecuteNoteSplit overwrites input leaves with two output note hashes,
// reusing input indices where possible and allocating firstZeroIndex for
// any overflow (spec §4.D Note Split, scenario S4).
func ExecuteNoteSplit(ec *ExecContext, inputs []*notes.Note, outputs [2]*notes.Note, firstZeroIndex func() uint64) ([]uint64, error) {
	var sumIn, sumOut uint64
	for _, n := range inputs {
		sumIn += n.Amount
	}
	sumOut = outputs[0].Amount + outputs[1].Amount
	if sumIn != sumOut {
		return nil, domainerrors.NewEngineError(domainerrors.EngineErrInsufficientAmount, "note split does not conserve amount", nil)
	}
	if !outputs[0].SameOwner(inputs[0]) || !outputs[1].SameOwner(inputs[len(inputs)-1]) {
		return nil, domainerrors.NewEngineError(domainerrors.EngineErrTokenMismatch, "note split output ownership mismatch", nil)
	}

	written := make([]uint64, 0, 2)

	idx0 := inputs[0].Index
	old0, _ := ec.SpotTree.UpdateLeaf(idx0, outputs[0].Hash)
	ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, idx0, old0)
	ec.Updated.SetNote(idx0, outputs[0].Hash)
	written = append(written, idx0)

	var idx1 uint64
	if len(inputs) > 1 {
		idx1 = inputs[1].Index
	} else {
		idx1 = firstZeroIndex()
		outputs[1].Index = idx1
		outputs[1].Hash = outputs[1].CalculateHash()
	}
	old1, _ := ec.SpotTree.UpdateLeaf(idx1, outputs[1].Hash)
	ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, idx1, old1)
	ec.Updated.SetNote(idx1, outputs[1].Hash)
	written = append(written, idx1)

	for i := 2; i < len(inputs); i++ {
		surplus := inputs[i]
		oldHash, _ := ec.SpotTree.UpdateLeaf(surplus.Index, statetree.ZeroHash)
		ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, surplus.Index, oldHash)
		ec.Updated.SetNote(surplus.Index, statetree.ZeroHash)
	}

	ec.appendRecord("note_split", noteSplitRecord{Inputs: inputs, Outputs: outputs, Written: written})
	return written, nil
}

// noteSplitRecord is the "note_split" transaction-log payload.
type noteSplitRecord struct {
	Inputs  []*notes.Note   `json:"inputs"`
	Outputs [2]*notes.Note  `json:"outputs"`
	Written []uint64        `json:"written"`
}

// SpotFillInput is one side of a spot swap: the matched order plus the note
// movements the fill requires (spec §4.D Spot Swap).
type SpotFillInput struct {
	Order           *orders.LimitOrder
	Signature       notes.Signature
	OwnerPubKey     []byte
	InputNotes      []*notes.Note
	OutputNote      *notes.Note
	RefundNote      *notes.Note
	PartiallyFilled bool
	CumulativeSpent uint64
}

func applySpotFill(ec *ExecContext, f SpotFillInput) error {
	if !ec.Trackers.TryBlock(f.Order.ID) {
		return domainerrors.NewEngineError(domainerrors.EngineErrDuplicateOrderID, "order id is already being processed", nil)
	}
	ec.Safeguard.RecordBlockedID(ec.Worker, f.Order.ID)

	ok, err := notes.Verify(f.OwnerPubKey, []byte(f.Order.Hash()), f.Signature)
	if err != nil || !ok {
		return domainerrors.NewEngineError(domainerrors.EngineErrInvalidSignature, "spot order signature verification failed", err)
	}

	for _, n := range f.InputNotes {
		if ec.SpotTree.GetLeaf(n.Index) != n.Hash {
			return domainerrors.NewEngineError(domainerrors.EngineErrNoteHashMismatch, "spot swap input note hash mismatch", nil)
		}
	}
	for _, n := range f.InputNotes {
		oldHash, _ := ec.SpotTree.UpdateLeaf(n.Index, statetree.ZeroHash)
		ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, n.Index, oldHash)
		ec.Updated.SetNote(n.Index, statetree.ZeroHash)
	}

	if f.OutputNote != nil {
		oldHash, _ := ec.SpotTree.UpdateLeaf(f.OutputNote.Index, f.OutputNote.Hash)
		ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, f.OutputNote.Index, oldHash)
		ec.Updated.SetNote(f.OutputNote.Index, f.OutputNote.Hash)
	}
	if f.RefundNote != nil {
		oldHash, _ := ec.SpotTree.UpdateLeaf(f.RefundNote.Index, f.RefundNote.Hash)
		ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, f.RefundNote.Index, oldHash)
		ec.Updated.SetNote(f.RefundNote.Index, f.RefundNote.Hash)
	}

	if f.PartiallyFilled {
		var refundIdx *uint64
		if f.RefundNote != nil {
			idx := f.RefundNote.Index
			refundIdx = &idx
		}
		ec.Trackers.SetSpotPartial(f.Order.ID, SpotFillTracker{RefundNoteIndex: refundIdx, CumulativeFilled: f.CumulativeSpent})
		ec.Safeguard.RecordTrackerKey(ec.Worker, f.Order.ID)
	} else {
		ec.Trackers.DeleteSpotPartial(f.Order.ID)
		ec.Trackers.Unblock(f.Order.ID)
	}

	return nil
}

// swapRecord is the "swap" transaction-log payload.
type swapRecord struct {
	Swap matching.Swap  `json:"swap"`
	A    SpotFillInput  `json:"a"`
	B    SpotFillInput  `json:"b"`
}

// ExecuteSpotSwap applies both sides of a reduced spot Swap against the
// Spot Tree (spec §4.D Spot Swap). Fee notes are the caller's
// responsibility to construct as part of each side's OutputNote.
func ExecuteSpotSwap(ec *ExecContext, swap matching.Swap, a, b SpotFillInput) error {
	if err := applySpotFill(ec, a); err != nil {
		return err
	}
	if err := applySpotFill(ec, b); err != nil {
		return err
	}
	ec.appendRecord("swap", swapRecord{Swap: swap, A: a, B: b})
	return nil
}

// PerpFillInput is one side of a perp swap or the forced side of a
// liquidation.
type PerpFillInput struct {
	Order           *orders.PerpOrder
	Signature       notes.Signature
	OwnerPubKey     []byte
	Position        *perpdomain.PerpPosition
	PositionIndex   uint64
	CollateralNotes []*notes.Note
	RefundNote      *notes.Note
	PartiallyFilled bool
	CumulativeSpent uint64
	CumulativeMargin uint64
}

func applyPerpFill(ec *ExecContext, f PerpFillInput) error {
	if !ec.Trackers.TryBlock(f.Order.ID) {
		return domainerrors.NewEngineError(domainerrors.EngineErrDuplicateOrderID, "order id is already being processed", nil)
	}
	ec.Safeguard.RecordBlockedID(ec.Worker, f.Order.ID)

	ok, err := notes.Verify(f.OwnerPubKey, []byte(f.Order.Hash()), f.Signature)
	if err != nil || !ok {
		return domainerrors.NewEngineError(domainerrors.EngineErrInvalidSignature, "perp order signature verification failed", err)
	}

	for _, n := range f.CollateralNotes {
		if ec.SpotTree.GetLeaf(n.Index) != n.Hash {
			return domainerrors.NewEngineError(domainerrors.EngineErrNoteHashMismatch, "perp swap collateral note hash mismatch", nil)
		}
	}
	for _, n := range f.CollateralNotes {
		oldHash, _ := ec.SpotTree.UpdateLeaf(n.Index, statetree.ZeroHash)
		ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, n.Index, oldHash)
		ec.Updated.SetNote(n.Index, statetree.ZeroHash)
	}
	if f.RefundNote != nil {
		oldHash, _ := ec.SpotTree.UpdateLeaf(f.RefundNote.Index, f.RefundNote.Hash)
		ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, f.RefundNote.Index, oldHash)
		ec.Updated.SetNote(f.RefundNote.Index, f.RefundNote.Hash)
	}

	if f.Position != nil {
		// SwapFundingInfo is computed here, at execution time, from the
		// window between this position's own funding bookmark and the
		// batch's current funding index (spec §4.D Perp Swap). The call
		// also seeds min_funding_idxs for this token so finalize_batch's
		// FundingInfo bundle covers every index any position touched this
		// batch (spec §3 Funding State, §4.E step 5).
		rates, prices := ec.Oracle.FundingWindow(f.Position.SyntheticToken, f.Position.LastFundingIdx)
		info := perpdomain.SwapFundingInfo{FundingRates: rates, FundingPrices: prices}
		f.Position.ApplyFunding(info, ec.Oracle.CurrentFundingIdx())
	}

	// A position whose size is zero is removed from the Perpetual Tree.
	posHash := f.Position.Hash()
	if f.Position.IsClosed() {
		posHash = statetree.ZeroHash
	}
	oldPos, _ := ec.PerpTree.UpdateLeaf(f.PositionIndex, posHash)
	ec.Safeguard.RecordLeaf(ec.Worker, rollback.PerpTree, f.PositionIndex, oldPos)
	ec.Updated.SetPosition(f.PositionIndex, posHash)

	if f.PartiallyFilled {
		var refundIdx *uint64
		if f.RefundNote != nil {
			idx := f.RefundNote.Index
			refundIdx = &idx
		}
		ec.Trackers.SetPerpPartial(f.Order.ID, PerpFillTracker{RefundNoteIndex: refundIdx, CumulativeFilled: f.CumulativeSpent, CumulativeMargin: f.CumulativeMargin})
		ec.Safeguard.RecordTrackerKey(ec.Worker, f.Order.ID)
	} else {
		ec.Trackers.DeletePerpPartial(f.Order.ID)
		ec.Trackers.Unblock(f.Order.ID)
	}

	return nil
}

// perpSwapRecord is the "perpetual_swap" transaction-log payload.
type perpSwapRecord struct {
	Swap matching.Swap `json:"swap"`
	A    PerpFillInput `json:"a"`
	B    PerpFillInput `json:"b"`
}

// ExecutePerpSwap applies both sides of a reduced perp Swap against the
// Perpetual Tree for positions and the Spot Tree for collateral notes
// (spec §4.D Perp Swap).
func ExecutePerpSwap(ec *ExecContext, swap matching.Swap, a, b PerpFillInput) error {
	if err := applyPerpFill(ec, a); err != nil {
		return err
	}
	if err := applyPerpFill(ec, b); err != nil {
		return err
	}
	ec.appendRecord("perpetual_swap", perpSwapRecord{Swap: swap, A: a, B: b})
	return nil
}

// LiquidationInput describes the forced side of a liquidation plus the
// insurance-fund delta it produces.
type LiquidationInput struct {
	Fill             PerpFillInput
	InsuranceDelta   int64 // positive: fund gains the surplus; negative: fund absorbs a shortfall
}

// liquidationRecord is the "liquidation" transaction-log payload.
type liquidationRecord struct {
	Fill           PerpFillInput `json:"fill"`
	InsuranceDelta int64         `json:"insurance_delta"`
}

// ExecuteLiquidation is like a perp swap but the liquidated side is forced;
// the insurance fund absorbs any remainder or gain (spec §4.D Liquidation).
// settleInsurance is the caller-supplied hook into the insurance-fund ledger.
func ExecuteLiquidation(ec *ExecContext, liq LiquidationInput, settleInsurance func(delta int64) error) error {
	if err := applyPerpFill(ec, liq.Fill); err != nil {
		return err
	}
	if liq.InsuranceDelta != 0 && settleInsurance != nil {
		if err := settleInsurance(liq.InsuranceDelta); err != nil {
			return domainerrors.NewPerpError(domainerrors.PerpErrLiquidationBound, "insurance fund settlement failed", err)
		}
	}
	ec.appendRecord("liquidation", liquidationRecord{Fill: liq.Fill, InsuranceDelta: liq.InsuranceDelta})
	return nil
}

// marginChangeRecord is the "margin_change" transaction-log payload.
type marginChangeRecord struct {
	Change *perpdomain.MarginChange `json:"change"`
}

// ExecuteMarginChange verifies the margin-change signature against the
// position and applies the signed delta (spec §4.D Margin Change).
func ExecuteMarginChange(ec *ExecContext, change *perpdomain.MarginChange, position *perpdomain.PerpPosition, ownerPubKey []byte, inputNotes []*notes.Note, refund *notes.Note, closeNote *notes.Note, firstZeroIndex func() uint64) error {
	msg := []byte(position.Hash())
	ok, err := notes.Verify(ownerPubKey, msg, change.Signature)
	if err != nil || !ok {
		return domainerrors.NewEngineError(domainerrors.EngineErrInvalidSignature, "margin change signature verification failed", err)
	}

	// A margin change touches this position's funding bookmark without
	// settling funding itself, so min_funding_idxs must still be seeded for
	// it here (spec §3 Funding State, §4.E step 5); the rate/price window
	// is discarded since no funding payment is applied on this path.
	ec.Oracle.FundingWindow(position.SyntheticToken, position.LastFundingIdx)

	if change.Delta >= 0 {
		for _, n := range inputNotes {
			if ec.SpotTree.GetLeaf(n.Index) != n.Hash {
				return domainerrors.NewEngineError(domainerrors.EngineErrNoteHashMismatch, "margin change input note hash mismatch", nil)
			}
		}
		for _, n := range inputNotes {
			oldHash, _ := ec.SpotTree.UpdateLeaf(n.Index, statetree.ZeroHash)
			ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, n.Index, oldHash)
			ec.Updated.SetNote(n.Index, statetree.ZeroHash)
		}
		if refund != nil {
			oldHash, _ := ec.SpotTree.UpdateLeaf(refund.Index, refund.Hash)
			ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, refund.Index, oldHash)
			ec.Updated.SetNote(refund.Index, refund.Hash)
		}
	} else {
		if closeNote == nil {
			return domainerrors.NewEngineError(domainerrors.EngineErrInsufficientAmount, "negative margin change requires a collateral return note", nil)
		}
		idx := firstZeroIndex()
		closeNote.Index = idx
		closeNote.Hash = closeNote.CalculateHash()
		oldHash, _ := ec.SpotTree.UpdateLeaf(idx, closeNote.Hash)
		ec.Safeguard.RecordLeaf(ec.Worker, rollback.SpotTree, idx, oldHash)
		ec.Updated.SetNote(idx, closeNote.Hash)
	}

	if err := position.ApplyMarginChange(change.Delta); err != nil {
		return err
	}

	oldPos, _ := ec.PerpTree.UpdateLeaf(change.PositionIndex, position.Hash())
	ec.Safeguard.RecordLeaf(ec.Worker, rollback.PerpTree, change.PositionIndex, oldPos)
	ec.Updated.SetPosition(change.PositionIndex, position.Hash())

	ec.appendRecord("margin_change", marginChangeRecord{Change: change})

	return nil
}
