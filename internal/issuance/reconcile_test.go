package issuance

import (
	"time"

	"certledger/internal/journal"
	"certledger/internal/ledger/memory"
)

func (s *IssuanceServiceSuite) TestReconcileSettlesTimedOutPublishes() {
	s.ledger = memory.New(
		memory.WithClock(s.clock.Now),
		memory.WithPollInterval(time.Millisecond),
		memory.WithConfirmDelay(time.Minute),
	)
	s.newService(WithConfirmTimeout(20 * time.Millisecond))

	_, err := s.service.Publish(s.ctx, alice())
	se := s.submissionError(err)
	s.Require().True(se.Ambiguous())

	settled, err := s.service.ReconcileOnce(s.ctx, 10)
	s.Require().NoError(err)
	s.Zero(settled, "still pending on the ledger")

	s.clock.Advance(2 * time.Minute)
	settled, err = s.service.ReconcileOnce(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, settled)

	entry, err := s.journal.Find(s.ctx, se.TxHash)
	s.Require().NoError(err)
	s.Equal(journal.StateConfirmed, entry.State)

	unsettled, err := s.service.Unsettled(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(unsettled)
}

func (s *IssuanceServiceSuite) TestReconcileLeavesUnreachableEntriesAlone() {
	s.ledger = memory.New(
		memory.WithClock(s.clock.Now),
		memory.WithPollInterval(time.Millisecond),
		memory.WithConfirmDelay(time.Minute),
	)
	s.newService(WithConfirmTimeout(20 * time.Millisecond))

	_, err := s.service.Publish(s.ctx, alice())
	se := s.submissionError(err)

	s.clock.Advance(2 * time.Minute)
	s.ledger.SetReachable(false)
	settled, err := s.service.ReconcileOnce(s.ctx, 10)
	s.Require().NoError(err)
	s.Zero(settled)

	entry, err := s.journal.Find(s.ctx, se.TxHash)
	s.Require().NoError(err)
	s.Equal(journal.StateTimedOut, entry.State)
}
