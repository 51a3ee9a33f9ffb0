package engine

import (
	"github.com/cmatc13/stathera/internal/persistence"
	"github.com/cmatc13/stathera/internal/statetree"
)

// USDCToken is the fixed collateral/quote token (spec §6 Market
// identifiers).
const USDCToken = 55555

// SyntheticMarket is one fixed spot/perp market pairing (spec §6 Market
// identifiers).
type SyntheticMarket struct {
	Token      uint64 `json:"token"`
	Symbol     string `json:"symbol"`
	SpotMarket uint64 `json:"spot_market"`
	PerpMarket uint64 `json:"perp_market"`
}

// GlobalConfig is the fixed market/collateral mapping carried by every
// batch bundle (spec §6 Market identifiers); it never varies batch to
// batch.
type GlobalConfig struct {
	CollateralToken        uint64            `json:"collateral_token"`
	ValidCollateralTokens  []uint64          `json:"valid_collateral_tokens"`
	Markets                []SyntheticMarket `json:"markets"`
}

// NewGlobalConfig returns the fixed market/collateral configuration (spec
// §6: BTC=12345 spot market 11 / perp market 21, ETH=54321 spot market 12 /
// perp market 22, USDC=55555 the sole collateral token and first element of
// VALID_COLLATERAL_TOKENS).
func NewGlobalConfig() GlobalConfig {
	return GlobalConfig{
		CollateralToken:       USDCToken,
		ValidCollateralTokens: []uint64{USDCToken},
		Markets: []SyntheticMarket{
			{Token: 12345, Symbol: "BTC", SpotMarket: 11, PerpMarket: 21},
			{Token: 54321, Symbol: "ETH", SpotMarket: 12, PerpMarket: 22},
		},
	}
}

// GlobalDexState is the root/count summary of one finalized batch (spec
// §4.E steps 4-5).
type GlobalDexState struct {
	SpotTreeDepth    uint32 `json:"spot_tree_depth"`
	PerpTreeDepth    uint32 `json:"perp_tree_depth"`
	InitSpotRoot     string `json:"init_spot_root"`
	FinalSpotRoot    string `json:"final_spot_root"`
	InitPerpRoot     string `json:"init_perp_root"`
	FinalPerpRoot    string `json:"final_perp_root"`
	NOutputNotes     int    `json:"n_output_notes"`
	NZeroNotes       int    `json:"n_zero_notes"`
	NOutputPositions int    `json:"n_output_positions"`
	NEmptyPositions  int    `json:"n_empty_positions"`
	NDeposits        uint64 `json:"n_deposits"`
	NWithdrawals     uint64 `json:"n_withdrawals"`
}

// countLeafUpdates splits a batch-transition update map into the leaves
// that ended up non-zero versus zeroed out (spec §4.E step 4: "number of
// non-zero output notes, number of newly-zeroed notes" and the analogous
// position counts).
func countLeafUpdates(updates map[uint64]string) (nonZero, zeroed int) {
	for _, hash := range updates {
		if hash == statetree.ZeroHash {
			zeroed++
		} else {
			nonZero++
		}
	}
	return nonZero, zeroed
}

// FinalizeBundle is the complete finalize_batch output consumed by the
// downstream zero-knowledge prover (spec §4.E step 6, §6 persistence
// output path, §8 S6's required top-level keys).
type FinalizeBundle struct {
	GlobalDexState    GlobalDexState              `json:"global_dex_state"`
	GlobalConfig      GlobalConfig                `json:"global_config"`
	FundingInfo       persistence.FundingInfoFile `json:"funding_info"`
	PriceInfo         persistence.PriceInfoFile   `json:"price_info"`
	Transactions      []persistence.Record        `json:"transactions"`
	Preimage          []statetree.LeafUpdate      `json:"preimage"`
	PerpetualPreimage []statetree.LeafUpdate      `json:"perpetual_preimage"`
}
