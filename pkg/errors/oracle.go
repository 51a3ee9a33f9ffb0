// pkg/errors/oracle.go
package errors

// Oracle update error codes (spec §7 OracleUpdateError)
const (
	OracleErrInvalidSignature    = "ORACLE_INVALID_SIGNATURE"
	OracleErrStaleTimestamp      = "ORACLE_STALE_TIMESTAMP"
	OracleErrInsufficientObs     = "ORACLE_INSUFFICIENT_OBSERVATIONS"
)

// OracleDomain is the oracle/funding subsystem domain.
const OracleDomain = "oracle"

// Oracle operations
const (
	OpApplyOracleUpdate  = "ApplyOracleUpdate"
	OpPerMinuteFunding   = "PerMinuteFundingUpdate"
)

// NewOracleError creates a new oracle-update-domain error.
func NewOracleError(code string, message string, err error) error {
	return &Error{Domain: OracleDomain, Code: code, Message: message, Original: err}
}

// IsOracleError checks if an error is an oracle error with the given code.
func IsOracleError(err error, code string) bool {
	var domainErr *Error
	if As(err, &domainErr) {
		return domainErr.Domain == OracleDomain && domainErr.Code == code
	}
	return false
}
