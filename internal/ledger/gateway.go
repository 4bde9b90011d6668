// Package ledger is the port to the external certificate registry.
//
// The registry is an append-only, replicated key-value store addressed by
// fingerprint. Writes are transactions that become durable only once
// confirmed; reads are point lookups that must tell "absent" apart from
// "could not ask".
//
// Duplicate fingerprints: the registry interface does not say whether a second
// publishCertificate for an existing key is rejected, ignored or overwrites.
// Nothing here assumes any of those; the registry's own semantics govern and
// callers only guarantee they submit at most once per request.
package ledger

import (
	"context"
	"fmt"
	"time"

	"certledger/internal/certificate"
)

//go:generate mockgen -source=gateway.go -destination=mocks/mock_gateway.go -package=mocks Gateway

// Gateway is the registry contract every adapter implements. Implementations
// are long-lived and safe for concurrent use.
type Gateway interface {
	// IsReachable is a cheap liveness probe. It never returns an error; a down
	// endpoint reads as false.
	IsReachable(ctx context.Context) bool

	// SubmitCertificate sends the state-changing publish transaction signed by
	// submission.Signer and returns without waiting for inclusion.
	SubmitCertificate(ctx context.Context, submission Submission) (TxHandle, error)

	// AwaitConfirmation blocks until the transaction is final, reverted, or
	// timeout elapses. Connectivity loss while waiting counts toward the
	// timeout rather than failing early. The error is non-nil only when ctx
	// ends first.
	AwaitConfirmation(ctx context.Context, handle TxHandle, timeout time.Duration) (Confirmation, error)

	// QueryCertificate is a read-only lookup by fingerprint.
	QueryCertificate(ctx context.Context, fingerprint certificate.Fingerprint) QueryResult

	// TransactionStatus reports where a previously submitted transaction
	// stands without waiting. Unknown hashes yield sentinel.ErrNotFound.
	TransactionStatus(ctx context.Context, txHash string) (Confirmation, error)
}

// Submission is the payload of a publish transaction.
type Submission struct {
	AwardeeName     string
	CertificateName string
	CertificateCode string
	Fingerprint     certificate.Fingerprint
	// Signer selects the signing identity (an account address). Empty means
	// the gateway's default identity.
	Signer string
}

// Validate mirrors the registry's own payload checks so malformed submissions
// are refused before they cost a transaction.
func (s Submission) Validate() error {
	switch {
	case s.AwardeeName == "":
		return fmt.Errorf("awardeeName is empty")
	case s.CertificateName == "":
		return fmt.Errorf("certificateName is empty")
	case s.CertificateCode == "":
		return fmt.Errorf("certificateCode is empty")
	case len(s.Fingerprint) != certificate.FingerprintLength:
		return fmt.Errorf("certificateHash has length %d", len(s.Fingerprint))
	}
	return nil
}

// TxHandle identifies a pending transaction.
type TxHandle struct {
	Hash        string
	Fingerprint certificate.Fingerprint
	Signer      string
	SubmittedAt time.Time
}

// ConfirmationStatus is the outcome of waiting on a transaction.
type ConfirmationStatus string

const (
	StatusPending   ConfirmationStatus = "pending"
	StatusConfirmed ConfirmationStatus = "confirmed"
	StatusReverted  ConfirmationStatus = "reverted"
	StatusTimedOut  ConfirmationStatus = "timed_out"
)

// Confirmation describes a transaction's inclusion. BlockNumber and BlockTime
// are set for confirmed and reverted transactions.
type Confirmation struct {
	Status      ConfirmationStatus
	TxHash      string
	BlockNumber uint64
	BlockTime   time.Time
}

// Outcome is the tri-state answer of a query.
type Outcome int

const (
	OutcomeConnectionError Outcome = iota
	OutcomeNotFound
	OutcomeFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "connection_error"
	}
}

// QueryResult is Found(Certificate) | NotFound | ConnectionError(Err).
// The zero value is a ConnectionError so an unset result never reads as "absent".
type QueryResult struct {
	Outcome     Outcome
	Certificate certificate.Certificate
	Err         error
}

func Found(c certificate.Certificate) QueryResult {
	return QueryResult{Outcome: OutcomeFound, Certificate: c}
}

func NotFound() QueryResult {
	return QueryResult{Outcome: OutcomeNotFound}
}

func ConnectionError(err error) QueryResult {
	if err == nil {
		err = ErrUnreachable
	}
	return QueryResult{Outcome: OutcomeConnectionError, Err: err}
}
