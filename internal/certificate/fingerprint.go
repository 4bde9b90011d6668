package certificate

import (
	"crypto/sha512"
	"encoding/hex"
	"strings"

	dErrors "certledger/pkg/domain-errors"
)

// FingerprintSeparator joins code and name in the digest input. It is part of
// the on-ledger key: changing it orphans every certificate already published.
const FingerprintSeparator = ":"

// FingerprintLength is the hex length of a SHA-512 digest.
const FingerprintLength = sha512.Size * 2

// Fingerprint is the lower-case hex SHA-512 of "code:name", the ledger key of a certificate.
type Fingerprint string

// Derive computes the fingerprint of a (code, name) pair. Inputs are hashed
// exactly as given; callers validate them first.
func Derive(code, name string) Fingerprint {
	sum := sha512.Sum512([]byte(code + FingerprintSeparator + name))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// ParseFingerprint accepts a fingerprint from the outside world: surrounding
// whitespace is dropped and hex digits are lower-cased.
func ParseFingerprint(raw string) (Fingerprint, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "Missing certificate hash")
	}
	if len(s) != FingerprintLength {
		return "", dErrors.New(dErrors.CodeValidation, "certificate_hash must be 128 hexadecimal characters")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "certificate_hash must be hexadecimal")
	}
	return Fingerprint(s), nil
}

func (f Fingerprint) String() string {
	return string(f)
}

// Short is a log-friendly prefix.
func (f Fingerprint) Short() string {
	if len(f) <= 16 {
		return string(f)
	}
	return string(f[:16])
}

func (f Fingerprint) IsZero() bool {
	return f == ""
}
