// Package oracle implements the Oracle & Funding Subsystem (spec §4.F):
// index-price tracking with amortized signature verification, and the
// per-minute funding-tick accumulator that produces realized funding rates.
//
// Grounded on the teacher's internal/timeoracle.StandardTimeOracle (HMAC
// signature verification pattern, struct shape for a verified observation)
// and internal/wallet.Wallet (btcec/ecdsa signature verification), since the
// example pack carries no standalone price-oracle package.
package oracle

import (
	"sort"
	"sync"

	"github.com/cmatc13/stathera/internal/notes"
	domainerrors "github.com/cmatc13/stathera/pkg/errors"
)

// Observation is one signed price report from an oracle signer.
type Observation struct {
	Price     uint64
	Timestamp int64
	SignerID  uint64
	PubKey    []byte
	Signature []byte
	Message   []byte
}

// OracleUpdate is a batch of observations for a single token (spec §3).
type OracleUpdate struct {
	Token        uint64
	Observations []Observation
}

func median(obs []Observation) uint64 {
	prices := make([]uint64, len(obs))
	for i, o := range obs {
		prices[i] = o.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	mid := len(prices) / 2
	if len(prices)%2 == 0 {
		return (prices[mid-1] + prices[mid]) / 2
	}
	return prices[mid]
}

func verifyObservations(obs []Observation) ([]Observation, bool) {
	valid := make([]Observation, 0, len(obs))
	for _, o := range obs {
		ok, err := notes.Verify(o.PubKey, o.Message, o.Signature)
		if err == nil && ok {
			valid = append(valid, o)
		}
	}
	return valid, len(valid) > 0
}

// extremum retains a tracked price plus the update that produced it, so the
// originating OracleUpdate can be handed to the prover as witness data.
type extremum struct {
	price  uint64
	update OracleUpdate
	set    bool
}

// TokenPriceState is the per-token price-tracking state (spec §3 Price
// State).
type TokenPriceState struct {
	Latest uint64
	min    extremum
	max    extremum
}

// State owns price tracking for every synthetic token plus the per-minute
// funding accumulator. All access goes through mu: price updates and funding
// ticks come from the Batch Engine's supervising thread, while executor
// goroutines call FundingWindow, which also records min_funding_idxs.
type State struct {
	mu sync.Mutex

	prices map[uint64]*TokenPriceState

	updatesSinceLastPersist int

	runningSum         map[uint64]float64
	currentFundingCount int
	fundingRates        map[uint64][]float64
	fundingPrices       map[uint64][]uint64
	currentFundingIdx   uint64
	minFundingIdxs      map[uint64]uint64
}

// New creates an empty oracle/funding state.
func New() *State {
	return &State{
		prices:         make(map[uint64]*TokenPriceState),
		runningSum:     make(map[uint64]float64),
		fundingRates:   make(map[uint64][]float64),
		fundingPrices:  make(map[uint64][]uint64),
		minFundingIdxs: make(map[uint64]uint64),
	}
}

// ApplyOracleUpdate folds one token's batch of observations into the
// tracked (latest, min, max) per spec §4.F. Returns whether a persist is due
// (every 10 updates).
func (s *State) ApplyOracleUpdate(u OracleUpdate) (persistDue bool, err error) {
	if len(u.Observations) == 0 {
		return false, domainerrors.NewOracleError(domainerrors.OracleErrInsufficientObs, "oracle update carries no observations", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.prices[u.Token]
	if !ok {
		st = &TokenPriceState{}
		s.prices[u.Token] = st
	}

	med := median(u.Observations)

	switch {
	case !st.min.set:
		valid, ok := verifyObservations(u.Observations)
		if !ok {
			return false, domainerrors.NewOracleError(domainerrors.OracleErrInvalidSignature, "no validly signed observations on first update", nil)
		}
		med = median(valid)
		st.Latest = med
		st.min = extremum{price: med, update: u, set: true}
		st.max = extremum{price: med, update: u, set: true}

	case med < st.min.price:
		valid, ok := verifyObservations(u.Observations)
		if !ok {
			return false, domainerrors.NewOracleError(domainerrors.OracleErrInvalidSignature, "signature verification failed on new minimum candidate", nil)
		}
		validMed := median(valid)
		st.Latest = validMed
		if validMed < st.min.price {
			st.min = extremum{price: validMed, update: u, set: true}
		}

	case med > st.max.price:
		valid, ok := verifyObservations(u.Observations)
		if !ok {
			return false, domainerrors.NewOracleError(domainerrors.OracleErrInvalidSignature, "signature verification failed on new maximum candidate", nil)
		}
		validMed := median(valid)
		st.Latest = validMed
		if validMed > st.max.price {
			st.max = extremum{price: validMed, update: u, set: true}
		}

	default:
		st.Latest = med
	}

	s.updatesSinceLastPersist++
	if s.updatesSinceLastPersist >= 10 {
		s.updatesSinceLastPersist = 0
		return true, nil
	}
	return false, nil
}

// PriceSnapshot is the (latest, min, max) view persisted every 10 updates.
type PriceSnapshot struct {
	Latest uint64
	Min    uint64
	Max    uint64
}

// Snapshot returns a token's current price state.
func (s *State) Snapshot(token uint64) PriceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.prices[token]
	if !ok {
		return PriceSnapshot{}
	}
	return PriceSnapshot{Latest: st.Latest, Min: st.min.price, Max: st.max.price}
}

// ResetBatchPriceData clears the per-batch min/max tracking on finalize
// (spec §4.G reset), leaving Latest untouched since it is informational.
func (s *State) ResetBatchPriceData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.prices {
		st.min = extremum{}
		st.max = extremum{}
	}
}

// ImpactQuote is one synthetic token's impact-bid/impact-ask quote from the
// liquidity monitor feeding the per-minute funding update.
type ImpactQuote struct {
	Token      uint64
	ImpactBid  float64
	ImpactAsk  float64
	IndexPrice float64
}

func clipToBands(q ImpactQuote) float64 {
	if q.IndexPrice == 0 {
		return 0
	}
	above := q.ImpactBid - q.IndexPrice
	if above < 0 {
		above = 0
	}
	below := q.IndexPrice - q.ImpactAsk
	if below < 0 {
		below = 0
	}
	return (above - below) / q.IndexPrice
}

// FundingTickResult reports whether this tick closed an 8-hour bucket.
type FundingTickResult struct {
	BucketClosed bool
}

// PerMinuteFundingUpdate folds one minute's impact quotes into the running
// sum per token, closing the 480-tick bucket and appending a realized
// funding rate/price when the bucket fills (spec §4.F).
func (s *State) PerMinuteFundingUpdate(quotes []ImpactQuote) FundingTickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range quotes {
		premium := clipToBands(q)
		s.runningSum[q.Token] += premium
	}

	s.currentFundingCount++
	if s.currentFundingCount < 480 {
		return FundingTickResult{BucketClosed: false}
	}

	for _, q := range quotes {
		rate := s.runningSum[q.Token] / 480
		s.fundingRates[q.Token] = append(s.fundingRates[q.Token], rate)
		s.fundingPrices[q.Token] = append(s.fundingPrices[q.Token], uint64(q.IndexPrice))
		s.runningSum[q.Token] = 0
	}
	s.currentFundingIdx++
	s.currentFundingCount = 0

	return FundingTickResult{BucketClosed: true}
}

// CurrentFundingIdx returns the monotonic funding index.
func (s *State) CurrentFundingIdx() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentFundingIdx
}

// FundingWindow returns the realized rates/prices for token from position
// fromIdx (inclusive) of its funding history through the latest realized
// rate, i.e. the rates recorded after the funding index advanced past
// fromIdx, and records fromIdx as the
// batch's minimum touched funding index for this token if not already set
// lower (spec §4.E GlobalDexState / FundingInfo construction).
func (s *State) FundingWindow(token uint64, fromIdx uint64) (rates []float64, prices []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.minFundingIdxs[token]; !ok || fromIdx < existing {
		s.minFundingIdxs[token] = fromIdx
	}

	allRates := s.fundingRates[token]
	allPrices := s.fundingPrices[token]
	if fromIdx >= uint64(len(allRates)) {
		return nil, nil
	}
	return append([]float64(nil), allRates[fromIdx:]...), append([]uint64(nil), allPrices[fromIdx:]...)
}

// MinFundingIdxs returns the per-token minimum funding index touched this
// batch, for the finalize-time FundingInfo bundle.
func (s *State) MinFundingIdxs() map[uint64]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]uint64, len(s.minFundingIdxs))
	for k, v := range s.minFundingIdxs {
		out[k] = v
	}
	return out
}

// ResetBatch clears min_funding_idxs only; funding_rates/funding_prices and
// current_funding_idx are cumulative across batches (spec §4.G).
func (s *State) ResetBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minFundingIdxs = make(map[uint64]uint64)
}

