package issuance

import (
	"context"
	"time"

	"certledger/internal/ledger"
)

// DefaultReconcileBatch bounds how many unsettled transactions one sweep asks
// the ledger about.
const DefaultReconcileBatch = 50

// ReconcileOnce asks the ledger about unsettled journal entries and writes
// back any the ledger has decided. It returns how many were settled.
func (s *Service) ReconcileOnce(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = DefaultReconcileBatch
	}
	entries, err := s.Unsettled(ctx, batch)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		status, err := s.Status(ctx, entry.TxHash)
		if err != nil {
			s.logger.DebugContext(ctx, "reconcile status failed",
				"tx_hash", entry.TxHash,
				"error", err,
			)
			continue
		}
		if status.Status == ledger.StatusConfirmed || status.Status == ledger.StatusReverted {
			settled++
		}
	}
	return settled, nil
}

// Reconcile runs ReconcileOnce every interval until ctx is done.
func (s *Service) Reconcile(ctx context.Context, interval time.Duration) error {
	if s.journal == nil || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			settled, err := s.ReconcileOnce(ctx, DefaultReconcileBatch)
			if err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "reconcile sweep failed", "error", err)
				continue
			}
			if settled > 0 {
				s.logger.InfoContext(ctx, "reconciled unsettled transactions", "settled", settled)
			}
		}
	}
}
