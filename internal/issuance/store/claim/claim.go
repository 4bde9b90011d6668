// Package claim holds short-lived publish claims keyed by fingerprint. A claim
// stops two requests from submitting the same certificate at once; it is a
// best-effort guard, not a lock the ledger honours.
package claim

import (
	"time"

	"github.com/google/uuid"
)

const keyPrefix = "publish:claim:"

func newToken() string {
	return uuid.NewString()
}

func expired(deadline, now time.Time) bool {
	return !now.Before(deadline)
}
