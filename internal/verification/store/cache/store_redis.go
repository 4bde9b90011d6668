// Package cache keeps verified certificates in redis so repeat scans of the
// same QR code skip the ledger round trip.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"certledger/internal/certificate"
)

const keyPrefix = "verify:cert:"

type record struct {
	AwardeeName     string    `json:"awardee_name"`
	CertificateName string    `json:"certificate_name"`
	CertificateCode string    `json:"certificate_code"`
	CertificateHash string    `json:"certificate_hash"`
	IssuedAt        time.Time `json:"issued_at"`
}

type RedisCache struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, fp certificate.Fingerprint) (certificate.Certificate, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+fp.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return certificate.Certificate{}, false, nil
	}
	if err != nil {
		return certificate.Certificate{}, false, fmt.Errorf("read verified certificate: %w", err)
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return certificate.Certificate{}, false, fmt.Errorf("decode verified certificate: %w", err)
	}
	return certificate.Certificate{
		AwardeeName:     r.AwardeeName,
		CertificateName: r.CertificateName,
		CertificateCode: r.CertificateCode,
		Fingerprint:     certificate.Fingerprint(r.CertificateHash),
		IssuedAt:        r.IssuedAt.UTC(),
	}, true, nil
}

func (c *RedisCache) Put(ctx context.Context, cert certificate.Certificate, ttl time.Duration) error {
	raw, err := json.Marshal(record{
		AwardeeName:     cert.AwardeeName,
		CertificateName: cert.CertificateName,
		CertificateCode: cert.CertificateCode,
		CertificateHash: cert.Fingerprint.String(),
		IssuedAt:        cert.IssuedAt,
	})
	if err != nil {
		return fmt.Errorf("encode verified certificate: %w", err)
	}
	return c.client.Set(ctx, keyPrefix+cert.Fingerprint.String(), raw, ttl).Err()
}
