package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/therapycompanion/reminders/internal/repo"
)

const (
	dispatchLockKey = "dispatch-due"
	interruptedNote = "delivery interrupted"
)

// DispatchDue is the scheduler tick: it claims every scheduled message whose
// time has come and hands them to the sender. Only one replica runs a tick
// at a time. Claims older than the lease are failed first; the provider may
// or may not have the message, so it is never sent again.
func (s *MessageService) DispatchDue(ctx context.Context) error {
	start := time.Now()
	defer func() { s.metrics.DispatchTick(time.Since(start)) }()

	release, ok, err := s.locker.TryLock(ctx, dispatchLockKey, s.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug().Msg("dispatch lock held elsewhere, skipping tick")
		return nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Msg("dispatch lock release failed")
		}
	}()

	now := s.clock()
	stale, err := s.store.FailStaleClaims(ctx, now.Add(-s.claimLease), interruptedNote)
	if err != nil {
		return err
	}
	for _, id := range stale {
		s.metrics.Delivery("failed")
		s.log.Warn().Int64("message_id", id).Str("reason", interruptedNote).Msg("stale delivery claim failed")
	}

	msgs, err := s.store.ClaimDue(ctx, now, s.batchSize)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	sent, failed := s.sender.ProcessBatch(ctx, msgs)
	s.log.Info().Int("claimed", len(msgs)).Int("sent", sent).Int("failed", failed).Msg("dispatch batch processed")
	return nil
}

// RecordDelivery applies a provider delivery receipt. Receipts for unknown
// messages, or for messages that are not sent, are ignored.
func (s *MessageService) RecordDelivery(ctx context.Context, providerMessageID, status string) error {
	if strings.TrimSpace(providerMessageID) == "" {
		return invalid("provider_message_id is required")
	}
	switch strings.ToLower(status) {
	case "", "delivered", "read":
	default:
		s.log.Info().Str("provider_message_id", providerMessageID).Str("status", status).Msg("delivery receipt ignored")
		return nil
	}

	id, _, err := s.cache.LookupMessage(ctx, providerMessageID)
	if err != nil {
		s.log.Warn().Err(err).Msg("receipt cache lookup failed")
		id = 0
	}

	id, err = s.store.MarkDelivered(ctx, id, providerMessageID, s.clock())
	if errors.Is(err, repo.ErrNotFound) {
		s.log.Info().Str("provider_message_id", providerMessageID).Msg("delivery receipt for unknown or unsent message")
		return nil
	}
	if err != nil {
		return err
	}

	s.metrics.Delivery("delivered")
	s.log.Info().Bool("audit", true).Str("action", "delivered").Int64("message_id", id).Msg("message delivered")
	return nil
}
