// Package certificate defines the credential identity and its content-derived fingerprint.
package certificate

import (
	"fmt"
	"strings"
	"time"

	dErrors "certledger/pkg/domain-errors"
)

// Field names as they appear on the wire; validation messages name them.
const (
	FieldAwardeeName     = "awardee_name"
	FieldCertificateName = "certificate_name"
	FieldCertificateCode = "certificate_code"
)

// Certificate is a published credential as read back from the ledger.
type Certificate struct {
	AwardeeName     string
	CertificateName string
	CertificateCode string
	Fingerprint     Fingerprint
	IssuedAt        time.Time
}

// Identity holds the caller-supplied fields of a certificate before publication.
type Identity struct {
	AwardeeName     string
	CertificateName string
	CertificateCode string
}

// Validate rejects identities with a missing or blank field, checking fields in
// wire order so the first missing one is reported.
//
// The code may not contain the separator: the name is free-form, so keeping
// the separator out of the code is what keeps "code:name" unambiguous.
func (i Identity) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{FieldAwardeeName, i.AwardeeName},
		{FieldCertificateName, i.CertificateName},
		{FieldCertificateCode, i.CertificateCode},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("Missing field: %s", f.name))
		}
	}
	if strings.Contains(i.CertificateCode, FingerprintSeparator) {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("Invalid field: %s must not contain %q", FieldCertificateCode, FingerprintSeparator))
	}
	return nil
}

// Fingerprint derives the identity's ledger key.
func (i Identity) Fingerprint() Fingerprint {
	return Derive(i.CertificateCode, i.CertificateName)
}
