package issuance

import (
	"fmt"

	"certledger/internal/ledger"
	dErrors "certledger/pkg/domain-errors"
)

// Reason says why a submission did not end in a confirmed transaction.
type Reason string

const (
	ReasonRejected     Reason = "rejected"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonUnavailable  Reason = "unavailable"
	ReasonReverted     Reason = "reverted"
	// ReasonTimedOut is ambiguous: the transaction may still confirm. Poll
	// its status instead of publishing again.
	ReasonTimedOut Reason = "timed_out"
	// ReasonInProgress means another request holds the publish claim for
	// this fingerprint. Nothing was submitted.
	ReasonInProgress Reason = "in_progress"
)

// SubmissionError is a failed or undecided ledger write. TxHash is set once
// the transaction left the service.
type SubmissionError struct {
	Reason Reason
	TxHash string
	Err    error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("submission %s", e.Reason)
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Ambiguous reports whether the ledger may still apply the transaction.
func (e *SubmissionError) Ambiguous() bool {
	return e.Reason == ReasonTimedOut
}

func (e *SubmissionError) code() dErrors.Code {
	switch e.Reason {
	case ReasonInProgress:
		return dErrors.CodeConflict
	case ReasonUnavailable:
		return dErrors.CodeLedgerUnavailable
	case ReasonTimedOut:
		return dErrors.CodeTimeout
	default:
		return dErrors.CodeSubmission
	}
}

func (e *SubmissionError) message() string {
	switch e.Reason {
	case ReasonInProgress:
		return "Failed to publish certificate: a publish for this certificate is already in progress"
	case ReasonUnavailable:
		return "Failed to publish certificate: ledger unavailable"
	case ReasonUnauthorized:
		return "Failed to publish certificate: signing identity is not authorized"
	case ReasonReverted:
		return "Failed to publish certificate: transaction reverted"
	case ReasonTimedOut:
		return "Failed to publish certificate: confirmation timed out, the transaction may still be confirmed"
	default:
		return "Failed to publish certificate: the ledger rejected the submission"
	}
}

// asDomainError keeps the SubmissionError reachable through errors.As.
func (e *SubmissionError) asDomainError() error {
	return dErrors.Wrap(e, e.code(), e.message())
}

func reasonFor(err error) Reason {
	switch ledger.CategoryOf(err) {
	case ledger.CategoryUnauthorized:
		return ReasonUnauthorized
	case ledger.CategoryUnavailable:
		return ReasonUnavailable
	default:
		return ReasonRejected
	}
}
