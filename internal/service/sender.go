package service

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/therapycompanion/reminders/internal/model"
	"github.com/therapycompanion/reminders/internal/whatsapp"
)

type (
	SentHook      func(ctx context.Context, messageID int64, providerMessageID string) error
	FailedHook    func(ctx context.Context, messageID int64, reason string) error
	AbandonedHook func(ctx context.Context, messageID int64) error
)

// Sender pushes approved messages to the WhatsApp provider one by one and
// reports each outcome through its hooks. Hooks run even after ctx is
// cancelled: a provider call that was made must be recorded.
type Sender struct {
	client     whatsapp.Sender
	contentMax int
	log        zerolog.Logger

	onSent      SentHook
	onFailed    FailedHook
	onAbandoned AbandonedHook
}

func NewSender(client whatsapp.Sender, contentMax int) *Sender {
	return &Sender{
		client:     client,
		contentMax: contentMax,
		log:        zerolog.Nop(),
	}
}

func (s *Sender) WithHooks(onSent SentHook, onFailed FailedHook) *Sender {
	s.onSent = onSent
	s.onFailed = onFailed
	return s
}

// WithAbandonedHook sets the hook for messages the batch never got to
// because ctx was done first.
func (s *Sender) WithAbandonedHook(h AbandonedHook) *Sender {
	s.onAbandoned = h
	return s
}

func (s *Sender) WithLogger(log zerolog.Logger) *Sender {
	s.log = log
	return s
}

func (s *Sender) ProcessBatch(ctx context.Context, msgs []model.Message) (sent int, failed int) {
	record := context.WithoutCancel(ctx)

	for i, m := range msgs {
		if ctx.Err() != nil {
			s.abandon(record, msgs[i:])
			return sent, failed
		}
		if m.RecipientPhone == "" {
			failed++
			s.fail(record, m.ID, "missing recipient phone")
			continue
		}
		if utf8.RuneCountInString(m.Content) > s.contentMax {
			failed++
			s.fail(record, m.ID, fmt.Sprintf("content exceeds %d chars", s.contentMax))
			continue
		}

		providerID, err := s.client.Send(ctx, m.RecipientPhone, m.Content)
		if err != nil {
			failed++
			s.fail(record, m.ID, err.Error())
			continue
		}

		sent++
		if s.onSent != nil {
			if err := s.onSent(record, m.ID, providerID); err != nil {
				s.log.Error().Err(err).Int64("message_id", m.ID).Str("provider_message_id", providerID).
					Msg("sent message could not be recorded")
			}
		}
	}
	return sent, failed
}

func (s *Sender) fail(ctx context.Context, id int64, reason string) {
	if s.onFailed == nil {
		return
	}
	if err := s.onFailed(ctx, id, reason); err != nil {
		s.log.Error().Err(err).Int64("message_id", id).Str("reason", reason).Msg("failed message could not be recorded")
	}
}

func (s *Sender) abandon(ctx context.Context, rest []model.Message) {
	if s.onAbandoned == nil {
		return
	}
	for _, m := range rest {
		if err := s.onAbandoned(ctx, m.ID); err != nil {
			s.log.Error().Err(err).Int64("message_id", m.ID).Msg("unsent message could not be released")
		}
	}
}
