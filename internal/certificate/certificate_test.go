package certificate

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certledger/pkg/domain-errors"
)

func TestDerive(t *testing.T) {
	t.Run("known vector", func(t *testing.T) {
		fp := Derive("C-1", "Intro")
		assert.Equal(t, Fingerprint("1240a706d7f4baa31a15e25f6e85533f4b2cf9aea6f288337be8ff0f3e3815f6"+
			"01510c8f6906026f46cf5b9044af588e65a4d9204969ad89b740d86f80a842bd"), fp)
		assert.Len(t, fp.String(), FingerprintLength)
	})

	t.Run("order of code and name matters", func(t *testing.T) {
		assert.NotEqual(t, Derive("a", "b"), Derive("b", "a"))
	})

	t.Run("awardee does not participate", func(t *testing.T) {
		a := Identity{AwardeeName: "Alice", CertificateName: "Intro", CertificateCode: "C-1"}
		b := Identity{AwardeeName: "Bob", CertificateName: "Intro", CertificateCode: "C-1"}
		assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	})
}

func TestDerive_Deterministic(t *testing.T) {
	for i := range 200 {
		code := fmt.Sprintf("CODE-%d", i)
		name := fmt.Sprintf("Course %d", i*7)
		assert.Equal(t, Derive(code, name), Derive(code, name))
	}
}

func TestDerive_NoCollisionsAcrossDistinctPairs(t *testing.T) {
	seen := make(map[Fingerprint]string, 20000)
	for c := range 100 {
		for n := range 200 {
			code := fmt.Sprintf("C-%d", c)
			name := fmt.Sprintf("N%d", n)
			fp := Derive(code, name)
			pair := code + "|" + name
			if prev, ok := seen[fp]; ok {
				t.Fatalf("collision between %q and %q", prev, pair)
			}
			seen[fp] = pair
		}
	}
}

func TestIdentityValidate(t *testing.T) {
	valid := Identity{AwardeeName: "Alice", CertificateName: "Intro", CertificateCode: "C-1"}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name    string
		mutate  func(*Identity)
		message string
	}{
		{"missing awardee", func(i *Identity) { i.AwardeeName = "" }, "Missing field: awardee_name"},
		{"blank certificate name", func(i *Identity) { i.CertificateName = "   " }, "Missing field: certificate_name"},
		{"missing code", func(i *Identity) { i.CertificateCode = "" }, "Missing field: certificate_code"},
		{"separator in code", func(i *Identity) { i.CertificateCode = "C:1" }, "Invalid field: certificate_code"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := valid
			tc.mutate(&id)
			err := id.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Contains(t, dErrors.MessageOf(err), tc.message)
		})
	}

	t.Run("separator in name is fine", func(t *testing.T) {
		id := valid
		id.CertificateName = "Intro: Part 1"
		assert.NoError(t, id.Validate())
	})
}

func TestParseFingerprint(t *testing.T) {
	fp := Derive("C-1", "Intro")

	t.Run("trims and lower-cases", func(t *testing.T) {
		got, err := ParseFingerprint("  " + strings.ToUpper(fp.String()) + "\n")
		require.NoError(t, err)
		assert.Equal(t, fp, got)
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := ParseFingerprint(" ")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := ParseFingerprint("abc123")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects non hex", func(t *testing.T) {
		_, err := ParseFingerprint(strings.Repeat("z", FingerprintLength))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
