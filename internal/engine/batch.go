package engine

import (
	"encoding/json"
	"sync"

	"github.com/cmatc13/stathera/internal/oracle"
	"github.com/cmatc13/stathera/internal/persistence"
	"github.com/cmatc13/stathera/internal/rollback"
	"github.com/cmatc13/stathera/internal/statetree"
	domainerrors "github.com/cmatc13/stathera/pkg/errors"
)

// TransactionsPerBatch is the default trigger threshold for finalize_batch
// (spec §3 Batch Counters).
const TransactionsPerBatch = 50

// TreeDepth is the fixed depth of both the spot and perpetual state trees.
const TreeDepth = 32

// Counters tracks the running totals the supervising goroutine alone
// mutates between finalizes (spec §5: "Engine-thread only").
type Counters struct {
	RunningTxCount uint64
	NDeposits      uint64
	NWithdrawals   uint64
}

// BatchEngine owns the state trees, the rollback safeguard, the shared
// trackers, the oracle/funding state, and the two storages, orchestrating
// dispatch and finalize_batch from a single supervising goroutine (spec
// §4.E, §5).
type BatchEngine struct {
	mu sync.Mutex

	SpotTree *statetree.Tree
	PerpTree *statetree.Tree

	Safeguard *rollback.Safeguard
	Trackers  *Trackers
	Updated   *UpdatedHashes
	Log       *TxLog
	Oracle    *oracle.State
	Storage   *persistence.MainStorage

	counters Counters
	nextWorker uint64
	wg         sync.WaitGroup

	threshold int
}

// NewBatchEngine wires a fresh BatchEngine over empty trees, ready to
// dispatch transactions.
func NewBatchEngine(storage *persistence.MainStorage) *BatchEngine {
	return &BatchEngine{
		SpotTree:  statetree.New(TreeDepth),
		PerpTree:  statetree.New(TreeDepth),
		Safeguard: rollback.New(),
		Trackers:  NewTrackers(),
		Updated:   NewUpdatedHashes(),
		Log:       NewTxLog(),
		Oracle:    oracle.New(),
		Storage:   storage,
		threshold: TransactionsPerBatch,
	}
}

// Kind tags a dispatched transaction so Dispatch can route its completion to
// the right counter (spec §4.E dispatch rules).
type Kind int

const (
	KindDeposit Kind = iota
	KindWithdrawal
	KindOther
)

// beginWorker hands out a fresh WorkerID and opens its rollback journal.
func (e *BatchEngine) beginWorker() rollback.WorkerID {
	e.mu.Lock()
	e.nextWorker++
	id := rollback.WorkerID(e.nextWorker)
	e.mu.Unlock()
	e.Safeguard.Begin(id)
	return id
}

// Dispatch runs fn (a transaction executor closure) on its own worker
// goroutine against a freshly-opened rollback journal, committing on
// success or replaying the journal in reverse on failure. It increments the
// counter matching kind and triggers finalize_batch once the threshold is
// reached (spec §4.D, §4.E).
func (e *BatchEngine) Dispatch(kind Kind, fn func(ec *ExecContext) error) <-chan error {
	result := make(chan error, 1)
	worker := e.beginWorker()
	e.wg.Add(1)

	go func() {
		ec := &ExecContext{
			SpotTree:  e.SpotTree,
			PerpTree:  e.PerpTree,
			Safeguard: e.Safeguard,
			Worker:    worker,
			Trackers:  e.Trackers,
			Updated:   e.Updated,
			Log:       e.Log,
			Oracle:    e.Oracle,
		}

		err := fn(ec)
		if err != nil {
			e.Safeguard.Abort(worker, e.SpotTree, e.PerpTree, rollback.Trackers{
				DeleteTrackerKey: func(orderID uint64) {
					e.Trackers.DeleteSpotPartial(orderID)
					e.Trackers.DeletePerpPartial(orderID)
				},
				Unblock: e.Trackers.Unblock,
			})
		} else {
			e.Safeguard.Commit(worker)
		}

		e.mu.Lock()
		switch kind {
		case KindDeposit:
			e.counters.NDeposits++
		case KindWithdrawal:
			e.counters.NWithdrawals++
		default:
			e.counters.RunningTxCount++
		}
		due := e.dueForFinalizeLocked()
		e.mu.Unlock()

		// This worker is done before it triggers finalize, whose wg.Wait
		// would otherwise wait on this very goroutine.
		e.wg.Done()
		if due {
			e.FinalizeBatch()
		}
		result <- err
	}()

	return result
}

func (e *BatchEngine) dueForFinalizeLocked() bool {
	return int(e.counters.RunningTxCount+e.counters.NDeposits+e.counters.NWithdrawals) >= e.threshold
}

// Counters returns a copy of the current batch counters.
func (e *BatchEngine) CurrentCounters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// FinalizeBatch implements spec §4.E finalize_batch. It waits for every
// outstanding dispatched transaction to complete, then loads the two trees
// fresh from disk as of the batch's starting roots — deliberately distinct
// from the live SpotTree/PerpTree the executors already mutated leaf-by-leaf
// during dispatch — and applies the bulk-update transcript derived from
// updated_note_hashes/updated_position_hashes against those freshly-loaded
// copies, so the resulting preimage genuinely witnesses the pre-batch to
// post-batch transition (spec §4.A, §4.E steps 2-3). It then computes the
// GlobalDexState/FundingInfo/PriceInfo, assembles the full prover-input
// bundle, writes it to the fixed output path, persists the transitioned
// trees, clears the transcript, and resets the per-batch counters. It joins
// outstanding workers with an explicit WaitGroup rather than a fixed sleep
// window, since a sleep cannot bound worst-case executor latency (spec
// REDESIGN FLAG).
func (e *BatchEngine) FinalizeBatch() error {
	e.wg.Wait()

	spotUpdates := e.Updated.Notes()
	perpUpdates := e.Updated.Positions()

	preSpot, err := e.loadPreBatchTree(e.Storage.LoadSpotTree, e.SpotTree.Depth())
	if err != nil {
		return err
	}
	prePerp, err := e.loadPreBatchTree(e.Storage.LoadPerpTree, e.PerpTree.Depth())
	if err != nil {
		return err
	}
	initSpotRoot := preSpot.Root()
	initPerpRoot := prePerp.Root()

	pending, err := e.Storage.ReadAll()
	if err != nil {
		return err
	}

	spotTranscript := preSpot.BatchTransition(spotUpdates)
	perpTranscript := prePerp.BatchTransition(perpUpdates)
	finalSpotRoot := preSpot.Root()
	finalPerpRoot := prePerp.Root()

	if err := e.persistTranscript(spotTranscript, perpTranscript); err != nil {
		return err
	}

	if err := e.Storage.StoreSpotTree(preSpot.ToSnapshot()); err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrTreeStoreFailed, "failed to persist spot tree snapshot", err)
	}
	if err := e.Storage.StorePerpTree(prePerp.ToSnapshot()); err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrTreeStoreFailed, "failed to persist perp tree snapshot", err)
	}

	fundingInfo, priceInfo := e.buildFundingAndPrice()
	if err := e.Storage.StoreFunding(fundingInfo); err != nil {
		return err
	}
	if err := e.Storage.StorePrice(priceInfo); err != nil {
		return err
	}

	nOutputNotes, nZeroNotes := countLeafUpdates(spotUpdates)
	nOutputPositions, nEmptyPositions := countLeafUpdates(perpUpdates)

	e.mu.Lock()
	counters := e.counters
	e.mu.Unlock()

	bundle := FinalizeBundle{
		GlobalDexState: GlobalDexState{
			SpotTreeDepth:    preSpot.Depth(),
			PerpTreeDepth:    prePerp.Depth(),
			InitSpotRoot:     initSpotRoot,
			FinalSpotRoot:    finalSpotRoot,
			InitPerpRoot:     initPerpRoot,
			FinalPerpRoot:    finalPerpRoot,
			NOutputNotes:     nOutputNotes,
			NZeroNotes:       nZeroNotes,
			NOutputPositions: nOutputPositions,
			NEmptyPositions:  nEmptyPositions,
			NDeposits:        counters.NDeposits,
			NWithdrawals:     counters.NWithdrawals,
		},
		GlobalConfig:      NewGlobalConfig(),
		FundingInfo:       fundingInfo,
		PriceInfo:         priceInfo,
		Transactions:      append(pending, e.Log.Records()...),
		Preimage:          spotTranscript,
		PerpetualPreimage: perpTranscript,
	}
	if err := e.Storage.WriteBatchBundle(bundle); err != nil {
		return err
	}

	if err := e.Storage.ClearTranscript(); err != nil {
		return err
	}

	e.mu.Lock()
	e.SpotTree = preSpot
	e.PerpTree = prePerp
	e.mu.Unlock()

	e.resetBatch()
	e.Log.Reset()
	return nil
}

type batchTransitionRecord struct {
	SpotUpdates []statetree.LeafUpdate `json:"spot_updates"`
	PerpUpdates []statetree.LeafUpdate `json:"perp_updates"`
}

func (e *BatchEngine) persistTranscript(spot, perp []statetree.LeafUpdate) error {
	payload, err := json.Marshal(batchTransitionRecord{SpotUpdates: spot, PerpUpdates: perp})
	if err != nil {
		return domainerrors.NewBatchError(domainerrors.BatchErrFileIO, "failed to marshal batch transition", err)
	}
	return e.Storage.AppendRecord(persistence.Record{TransactionType: "batch_transition", Payload: payload})
}

// buildFundingAndPrice computes the FundingInfo/PriceInfo bundle components
// (spec §4.E step 5): per-token funding rates/prices from each token's
// min_funding_idx through the current funding index, plus the min_funding_idxs
// map itself, and the per-token (latest, min, max) price snapshot.
func (e *BatchEngine) buildFundingAndPrice() (persistence.FundingInfoFile, persistence.PriceInfoFile) {
	minIdxs := e.Oracle.MinFundingIdxs()
	fundingRates := make(map[uint64][]float64, len(minIdxs))
	fundingPrices := make(map[uint64][]uint64, len(minIdxs))
	for token, from := range minIdxs {
		rates, prices := e.Oracle.FundingWindow(token, from)
		fundingRates[token] = rates
		fundingPrices[token] = prices
	}
	fundingInfo := persistence.FundingInfoFile{
		FundingRates:   fundingRates,
		FundingPrices:  fundingPrices,
		MinFundingIdxs: minIdxs,
	}

	latest := make(map[uint64]uint64, len(minIdxs))
	min := make(map[uint64]uint64, len(minIdxs))
	max := make(map[uint64]uint64, len(minIdxs))
	for token := range minIdxs {
		snap := e.Oracle.Snapshot(token)
		latest[token] = snap.Latest
		min[token] = snap.Min
		max[token] = snap.Max
	}
	priceInfo := persistence.PriceInfoFile{Latest: latest, Min: min, Max: max}

	return fundingInfo, priceInfo
}

// resetBatch clears the per-batch accumulators (spec §4.G reset_batch):
// updated note/position hashes, min/max price tracking, min_funding_idxs,
// and the transaction/deposit/withdrawal counts. funding_rates,
// funding_prices and current_funding_idx are cumulative and untouched.
func (e *BatchEngine) resetBatch() {
	e.Updated.Reset()
	e.Oracle.ResetBatchPriceData()
	e.Oracle.ResetBatch()

	e.mu.Lock()
	e.counters = Counters{}
	e.mu.Unlock()
}

// RestoreState replays a persisted transcript on cold start (spec §4.E
// restore_state): each record's payload is re-applied to rebuild the
// in-memory trees without re-verifying signatures, since every record was
// already validated and committed before it was written.
func (e *BatchEngine) RestoreState(apply func(persistence.Record) error) error {
	records, err := e.Storage.ReadAll()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := apply(rec); err != nil {
			return domainerrors.NewBatchError(domainerrors.BatchErrTreeLoadFailed, "failed to replay transcript record", err)
		}
	}
	return nil
}

// loadPreBatchTree loads a tree snapshot via load and rebuilds it into a
// standalone *statetree.Tree, distinct from whatever live tree the caller
// already holds. An empty snapshot (first batch ever, nothing persisted
// yet) yields a fresh empty tree at depth.
func (e *BatchEngine) loadPreBatchTree(load func() (statetree.Snapshot, error), depth uint32) (*statetree.Tree, error) {
	snap, err := load()
	if err != nil {
		return nil, err
	}
	return treeFromSnapshotOrEmpty(snap, depth)
}

func treeFromSnapshotOrEmpty(snap statetree.Snapshot, depth uint32) (*statetree.Tree, error) {
	if len(snap.Leaves) == 0 {
		return statetree.New(depth), nil
	}
	t, err := statetree.FromSnapshot(snap)
	if err != nil {
		return nil, domainerrors.NewBatchError(domainerrors.BatchErrTreeLoadFailed, "failed to rebuild tree from snapshot", err)
	}
	return t, nil
}

// LoadFromSnapshots rebuilds both state trees from their last persisted
// snapshot, used alongside RestoreState on cold start (spec §4.E).
func (e *BatchEngine) LoadFromSnapshots() error {
	spot, err := e.loadPreBatchTree(e.Storage.LoadSpotTree, e.SpotTree.Depth())
	if err != nil {
		return err
	}
	e.SpotTree = spot

	perp, err := e.loadPreBatchTree(e.Storage.LoadPerpTree, e.PerpTree.Depth())
	if err != nil {
		return err
	}
	e.PerpTree = perp
	return nil
}
