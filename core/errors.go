package core

import "errors"

// Sentinel errors surfaced by the accounting engine. Reconstruction aborts on
// all of these except ErrBlobCacheMiss and ErrMalformedBlob, which callers
// recover from by recomputing.
var (
	ErrStaleClient         = errors.New("client has not been updated")
	ErrInvalidBlockRange   = errors.New("invalid bundle block range")
	ErrChainTimeRegression = errors.New("chain time moved backwards")
	ErrDuplicateEvent      = errors.New("duplicate fill or slow fill request")
	ErrPrefillLookupFailed = errors.New("fill event lookup failed for filled relay")
	ErrMissingRoute        = errors.New("no pool rebalance route for token")
	ErrOracleUnavailable   = errors.New("fill status oracle unavailable")
	ErrBlobCacheMiss       = errors.New("bundle blob not cached")
	ErrMalformedBlob       = errors.New("bundle blob is malformed")
	ErrNotFound            = errors.New("resource not found")
	ErrDepositNotFound     = errors.New("deposit not found on origin chain")
)
