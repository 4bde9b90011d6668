package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, caches and ledger adapters
// return these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: key or record does not exist
//   - ErrConflict: a concurrent holder already owns the key
//   - ErrUnavailable: backing service temporarily unreachable
//   - ErrTimeout: the operation did not finish before its deadline
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrTimeout     = errors.New("timeout")
)
