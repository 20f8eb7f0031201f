package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/therapycompanion/reminders/internal/cache"
	"github.com/therapycompanion/reminders/internal/generator"
	"github.com/therapycompanion/reminders/internal/metrics"
	"github.com/therapycompanion/reminders/internal/model"
	"github.com/therapycompanion/reminders/internal/phone"
	"github.com/therapycompanion/reminders/internal/repo"
	"github.com/therapycompanion/reminders/internal/whatsapp"
)

type Options struct {
	ContentMax  int
	CountryCode string
	// Location is used to render session times inside templated content.
	Location *time.Location

	BatchSize int
	LockTTL   time.Duration
	// ClaimLease is how long a delivery attempt may own a message before
	// the dispatcher gives up on it and marks it failed.
	ClaimLease time.Duration

	Cache   cache.ReceiptCache
	Locker  cache.Locker
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// MessageService owns the message lifecycle. Every method is scoped to the
// therapist that makes the call.
type MessageService struct {
	store  repo.Store
	gen    generator.Generator
	sender *Sender

	contentMax  int
	countryCode string
	loc         *time.Location
	batchSize   int
	lockTTL     time.Duration
	claimLease  time.Duration

	cache   cache.ReceiptCache
	locker  cache.Locker
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewMessageService(store repo.Store, gen generator.Generator, wa whatsapp.Sender, opts Options) *MessageService {
	s := &MessageService{
		store:       store,
		gen:         gen,
		contentMax:  opts.ContentMax,
		countryCode: opts.CountryCode,
		loc:         opts.Location,
		batchSize:   opts.BatchSize,
		lockTTL:     opts.LockTTL,
		claimLease:  opts.ClaimLease,
		cache:       opts.Cache,
		locker:      opts.Locker,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		now:         opts.Now,
	}
	if s.contentMax <= 0 {
		s.contentMax = 1600
	}
	if s.countryCode == "" {
		s.countryCode = phone.DefaultCountryCode
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.batchSize <= 0 {
		s.batchSize = 50
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 25 * time.Second
	}
	if s.claimLease <= 0 {
		s.claimLease = 10 * time.Minute
	}
	if s.cache == nil {
		s.cache = cache.NopCache{}
	}
	if s.locker == nil {
		s.locker = cache.NewLocalLocker()
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.sender = NewSender(wa, s.contentMax).
		WithHooks(s.markSent, s.markFailed).
		WithAbandonedHook(s.store.ReleaseClaim).
		WithLogger(s.log)
	return s
}

func (s *MessageService) clock() time.Time { return s.now().UTC() }

// audit writes one structured line per workflow action.
func (s *MessageService) audit(action string, therapistID int64, m model.Message) {
	s.log.Info().
		Bool("audit", true).
		Str("action", action).
		Int64("therapist_id", therapistID).
		Int64("message_id", m.ID).
		Int64("patient_id", m.PatientID).
		Str("status", string(m.Status)).
		Msg("message " + action)
}

func (s *MessageService) patient(ctx context.Context, therapistID, patientID int64) (model.Patient, error) {
	p, err := s.store.GetPatient(ctx, therapistID, patientID)
	return p, fromRepo(err, "patient")
}

func (s *MessageService) message(ctx context.Context, therapistID, id int64) (model.Message, error) {
	m, err := s.store.GetMessage(ctx, therapistID, id)
	return m, fromRepo(err, "message")
}

func (s *MessageService) therapistName(ctx context.Context, therapistID int64) string {
	t, err := s.store.GetTherapist(ctx, therapistID)
	if err != nil {
		return ""
	}
	return t.FullName
}

// recipient picks the override when given, otherwise the patient's phone.
func (s *MessageService) recipient(p model.Patient, override *string) (string, error) {
	raw := p.Phone
	if override != nil && strings.TrimSpace(*override) != "" {
		raw = *override
	}
	if strings.TrimSpace(raw) == "" {
		return "", invalid("patient has no phone number on file and no recipient_phone was given")
	}

	n, err := phone.Normalize(raw, s.countryCode)
	if err != nil {
		return "", invalid("invalid recipient phone: %v", err)
	}
	return n, nil
}

func (s *MessageService) checkContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", invalid("content cannot be empty")
	}
	if n := utf8.RuneCountInString(content); n > s.contentMax {
		return "", invalid("content is %d characters, the limit is %d", n, s.contentMax)
	}
	return content, nil
}

// content returns the text to store for a new message of type mt.
func (s *MessageService) content(ctx context.Context, therapistID int64, p model.Patient, mt model.MessageType, given string) (string, error) {
	if mt.Policy().Templated {
		return generator.SessionReminder(p.FullName, s.therapistName(ctx, therapistID), p.NextSessionAt, s.loc)
	}
	return s.checkContent(given)
}

func checkConsent(p model.Patient) error {
	if !p.AllowAIContact {
		return invalid("patient %d has not agreed to receive automated messages", p.ID)
	}
	return nil
}

func checkType(mt model.MessageType) error {
	if !mt.Valid() {
		return invalid("unknown message type %q", mt)
	}
	return nil
}

// deliver sends a claimed message right away and returns its final state.
// Provider errors end up on the message as status failed, not as an error.
// The send outlives a caller that goes away: the row is already claimed and
// only this call will record its outcome.
func (s *MessageService) deliver(ctx context.Context, m model.Message) (model.Message, error) {
	ctx = context.WithoutCancel(ctx)
	s.sender.ProcessBatch(ctx, []model.Message{m})
	return s.message(ctx, m.TherapistID, m.ID)
}

// claimed reports whether a delivery attempt still owns m.
func claimed(m model.Message) bool {
	return m.Status == model.Approved && m.ClaimedAt != nil
}

func (s *MessageService) markSent(ctx context.Context, id int64, providerID string) error {
	at := s.clock()
	if err := s.store.MarkSent(ctx, id, providerID, at); err != nil {
		return fmt.Errorf("mark message %d sent: %w", id, err)
	}
	if err := s.cache.StoreSent(ctx, id, providerID, at); err != nil {
		s.log.Warn().Err(err).Int64("message_id", id).Msg("receipt cache write failed")
	}
	s.metrics.Delivery("sent")
	s.log.Info().Int64("message_id", id).Str("provider_message_id", providerID).Msg("message sent")
	return nil
}

func (s *MessageService) markFailed(ctx context.Context, id int64, reason string) error {
	if err := s.store.MarkFailed(ctx, id, reason); err != nil {
		return fmt.Errorf("mark message %d failed: %w", id, err)
	}
	s.metrics.Delivery("failed")
	s.log.Warn().Int64("message_id", id).Str("reason", reason).Msg("message delivery failed")
	return nil
}

func (s *MessageService) transition(from, to model.Status) {
	s.metrics.Transition(string(from), string(to))
}
