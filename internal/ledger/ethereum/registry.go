package ethereum

import (
	"bytes"
	_ "embed"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"certledger/internal/certificate"
)

//go:embed registry.abi.json
var registryABIJSON []byte

const (
	methodPublish  = "publishCertificate"
	methodVerify   = "verifyCertificate"
	eventPublished = "CertificatePublished"
)

// registryRecord mirrors the Certificate struct returned by verifyCertificate.
// Field names must match the ABI component names in camel case.
type registryRecord struct {
	AwardeeName     string
	CertificateName string
	CertificateCode string
	CertificateHash string
	Timestamp       *big.Int
}

func (r registryRecord) certificate() certificate.Certificate {
	c := certificate.Certificate{
		AwardeeName:     r.AwardeeName,
		CertificateName: r.CertificateName,
		CertificateCode: r.CertificateCode,
		Fingerprint:     certificate.Fingerprint(r.CertificateHash),
	}
	if r.Timestamp != nil && r.Timestamp.IsInt64() {
		c.IssuedAt = time.Unix(r.Timestamp.Int64(), 0).UTC()
	}
	return c
}

func parseRegistryABI() (abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(registryABIJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse registry ABI: %w", err)
	}
	return parsed, nil
}

func decodeVerifyResult(out []interface{}) (bool, registryRecord, error) {
	if len(out) != 2 {
		return false, registryRecord{}, fmt.Errorf("%s returned %d values, want 2", methodVerify, len(out))
	}
	found, ok := out[0].(bool)
	if !ok {
		return false, registryRecord{}, fmt.Errorf("%s: first value is %T, want bool", methodVerify, out[0])
	}
	rec, ok := abi.ConvertType(out[1], new(registryRecord)).(*registryRecord)
	if !ok {
		return false, registryRecord{}, fmt.Errorf("%s: cannot decode record of type %T", methodVerify, out[1])
	}
	return found, *rec, nil
}

// publishedFingerprints returns the fingerprints announced by
// CertificatePublished events the registry emitted in logs.
func publishedFingerprints(registry abi.ABI, address common.Address, logs []*types.Log) []string {
	event, ok := registry.Events[eventPublished]
	if !ok {
		return nil
	}
	var out []string
	for _, lg := range logs {
		if lg == nil || lg.Address != address || len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.Unpack(lg.Data)
		if err != nil || len(values) != 1 {
			continue
		}
		if hash, ok := values[0].(string); ok {
			out = append(out, hash)
		}
	}
	return out
}
