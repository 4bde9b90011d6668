package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: a credential
	// was anchored, or an attempt to anchor one failed.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers operator authentication.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine verification traffic. It may be
	// sampled or kept for a shorter period.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID              string
	Category        EventCategory
	Timestamp       time.Time
	Action          string
	CertificateHash string
	TxHash          string
	// ActorID is the operator who acted, empty for anonymous verifiers.
	ActorID   string
	Decision  string
	Reason    string
	RequestID string
	ClientIP  string
	Client    string
}

type AuditEvent string

const (
	EventCertificatePublished     AuditEvent = "certificate_published"
	EventCertificatePublishFailed AuditEvent = "certificate_publish_failed"

	EventCertificateVerified     AuditEvent = "certificate_verified"
	EventCertificateNotFound     AuditEvent = "certificate_not_found"
	EventVerificationUnavailable AuditEvent = "verification_unavailable"

	EventOperatorLoginSucceeded AuditEvent = "operator_login_succeeded"
	EventOperatorLoginFailed    AuditEvent = "operator_login_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCertificatePublished:     CategoryCompliance,
	EventCertificatePublishFailed: CategoryCompliance,

	EventOperatorLoginSucceeded: CategorySecurity,
	EventOperatorLoginFailed:    CategorySecurity,

	EventCertificateVerified:     CategoryOperations,
	EventCertificateNotFound:     CategoryOperations,
	EventVerificationUnavailable: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists events. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Reader is implemented by stores that can be queried back.
type Reader interface {
	ListByCertificate(ctx context.Context, certificateHash string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
