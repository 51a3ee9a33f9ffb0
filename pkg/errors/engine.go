// pkg/errors/engine.go
package errors

// Transaction execution error codes (spec §7 TransactionExecutionError)
const (
	EngineErrNoteHashMismatch    = "ENGINE_NOTE_HASH_MISMATCH"
	EngineErrInvalidSignature    = "ENGINE_INVALID_SIGNATURE"
	EngineErrInsufficientAmount  = "ENGINE_INSUFFICIENT_AMOUNT"
	EngineErrTokenMismatch       = "ENGINE_TOKEN_MISMATCH"
	EngineErrMarginInsufficient  = "ENGINE_MARGIN_INSUFFICIENT"
	EngineErrDuplicateOrderID    = "ENGINE_DUPLICATE_ORDER_ID"
)

// Perp swap execution error codes (spec §7 PerpSwapExecutionError)
const (
	PerpErrPositionNotFound = "PERP_POSITION_NOT_FOUND"
	PerpErrFundingMissing   = "PERP_FUNDING_RATE_MISSING"
	PerpErrSizeOverflow     = "PERP_SIZE_OVERFLOW"
	PerpErrLiquidationBound = "PERP_LIQUIDATION_BOUNDS"
)

// Batch finalization error codes (spec §7 BatchFinalizationError)
const (
	BatchErrTreeLoadFailed  = "BATCH_TREE_LOAD_FAILED"
	BatchErrTreeStoreFailed = "BATCH_TREE_STORE_FAILED"
	BatchErrFileIO          = "BATCH_FILE_IO"
)

// EngineDomain is the transaction-executor domain.
const EngineDomain = "engine"

// PerpDomain is the perpetual-swap-executor domain.
const PerpDomain = "perp"

// BatchDomain is the batch-finalization domain.
const BatchDomain = "batch"

// Engine operations
const (
	OpExecuteDeposit       = "ExecuteDeposit"
	OpExecuteWithdrawal    = "ExecuteWithdrawal"
	OpExecuteSpotSwap      = "ExecuteSpotSwap"
	OpExecutePerpSwap      = "ExecutePerpSwap"
	OpExecuteLiquidation   = "ExecuteLiquidation"
	OpExecuteNoteSplit     = "ExecuteNoteSplit"
	OpExecuteMarginChange  = "ExecuteMarginChange"
	OpFinalizeBatch        = "FinalizeBatch"
	OpRestoreState         = "RestoreState"
)

// NewEngineError creates a new transaction-execution-domain error.
func NewEngineError(code string, message string, err error) error {
	return &Error{Domain: EngineDomain, Code: code, Message: message, Original: err}
}

// NewPerpError creates a new perp-swap-execution-domain error.
func NewPerpError(code string, message string, err error) error {
	return &Error{Domain: PerpDomain, Code: code, Message: message, Original: err}
}

// NewBatchError creates a new batch-finalization-domain error.
func NewBatchError(code string, message string, err error) error {
	return &Error{Domain: BatchDomain, Code: code, Message: message, Original: err}
}

// IsEngineError checks if an error is an engine error with the given code.
func IsEngineError(err error, code string) bool {
	var domainErr *Error
	if As(err, &domainErr) {
		return domainErr.Domain == EngineDomain && domainErr.Code == code
	}
	return false
}
