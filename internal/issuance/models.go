package issuance

import (
	"time"

	"certledger/internal/certificate"
	"certledger/internal/ledger"
	"certledger/internal/verifylink"
)

// Request is one publish call.
type Request struct {
	Identity certificate.Identity
	// BaseURL prefixes the verification link embedded in the QR code.
	BaseURL string
	// Signer picks the ledger identity; empty uses the service default.
	Signer string
}

// Result is returned only after the ledger confirmed the transaction.
type Result struct {
	Fingerprint certificate.Fingerprint
	Artifact    verifylink.Artifact
	TxHash      string
	BlockNumber uint64
	IssuedAt    time.Time
}

// TxStatus answers a follow-up poll on a transaction.
type TxStatus struct {
	TxHash      string
	Status      ledger.ConfirmationStatus
	BlockNumber uint64
	IssuedAt    time.Time
	// Fingerprint is known only for transactions this service journaled.
	Fingerprint certificate.Fingerprint
}

// State is a step of a publish attempt. Every non-terminal state can move to
// StateFailed.
type State string

const (
	StateValidating           State = "validating"
	StateHashing              State = "hashing"
	StateSubmitting           State = "submitting"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateEncoding             State = "encoding"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

// anchored is what the ledger half of a publish hands back. It is shared
// between requests that joined the same in-flight publish.
type anchored struct {
	handle       ledger.TxHandle
	confirmation ledger.Confirmation
}
