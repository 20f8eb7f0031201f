package service

import (
	"context"
	"errors"
	"time"

	"github.com/therapycompanion/reminders/internal/generator"
	"github.com/therapycompanion/reminders/internal/model"
	"github.com/therapycompanion/reminders/internal/repo"
)

type GenerateInput struct {
	PatientID   int64
	MessageType model.MessageType
	Context     map[string]string
}

type Generated struct {
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"message_type"`
}

// Generate returns suggested content. Nothing is stored.
func (s *MessageService) Generate(ctx context.Context, therapistID int64, in GenerateInput) (Generated, error) {
	if err := checkType(in.MessageType); err != nil {
		return Generated{}, err
	}
	p, err := s.patient(ctx, therapistID, in.PatientID)
	if err != nil {
		return Generated{}, err
	}

	content, err := s.generate(ctx, therapistID, p, in.MessageType, in.Context)
	if err != nil {
		return Generated{}, err
	}
	return Generated{Content: content, MessageType: in.MessageType}, nil
}

func (s *MessageService) generate(ctx context.Context, therapistID int64, p model.Patient, mt model.MessageType, extra map[string]string) (string, error) {
	if mt.Policy().Templated {
		return s.content(ctx, therapistID, p, mt, "")
	}

	text, err := s.gen.Generate(ctx, generator.Prompt{
		PatientName:   p.FullName,
		TherapistName: s.therapistName(ctx, therapistID),
		MessageType:   mt,
		NextSessionAt: p.NextSessionAt,
		Context:       extra,
	})
	if err != nil {
		s.log.Error().Err(err).Int64("patient_id", p.ID).Str("message_type", string(mt)).Msg("content generation failed")
		return "", err
	}
	return text, nil
}

type ComposeInput struct {
	PatientID        int64
	MessageType      model.MessageType
	Content          string
	RecipientPhone   *string
	SendAt           *time.Time
	RelatedSessionID *int64
}

// Compose creates a message and, in the same call, either delivers it or
// schedules it. A missing or past SendAt means deliver now.
func (s *MessageService) Compose(ctx context.Context, therapistID int64, in ComposeInput) (model.Message, error) {
	if err := checkType(in.MessageType); err != nil {
		return model.Message{}, err
	}
	p, err := s.patient(ctx, therapistID, in.PatientID)
	if err != nil {
		return model.Message{}, err
	}
	if err := checkConsent(p); err != nil {
		return model.Message{}, err
	}

	to, err := s.recipient(p, in.RecipientPhone)
	if err != nil {
		return model.Message{}, err
	}
	content, err := s.content(ctx, therapistID, p, in.MessageType, in.Content)
	if err != nil {
		return model.Message{}, err
	}

	now := s.clock()
	m := model.Message{
		TherapistID:      therapistID,
		PatientID:        p.ID,
		Content:          content,
		MessageType:      in.MessageType,
		Channel:          model.WhatsApp,
		RecipientPhone:   to,
		RelatedSessionID: in.RelatedSessionID,
		GeneratedByAI:    in.MessageType.Policy().Generated,
	}

	scheduled := in.SendAt != nil && in.SendAt.After(now)
	if scheduled {
		at := in.SendAt.UTC()
		m.Status = model.Scheduled
		m.ScheduledSendAt = &at
	} else {
		m.Status = model.Approved
		m.ApprovedAt = &now
		m.ClaimedAt = &now
	}

	if err := s.store.CreateMessage(ctx, &m); err != nil {
		return model.Message{}, err
	}
	s.metrics.Composed(string(m.MessageType), scheduled)
	s.audit("compose", therapistID, m)

	if scheduled {
		return m, nil
	}
	return s.deliver(ctx, m)
}

func checkVersion(m model.Message, expected *int) error {
	if expected != nil && *expected != m.Version {
		return conflict("message %d is at version %d, not %d; reload and try again", m.ID, m.Version, *expected)
	}
	return nil
}

func checkMutable(m model.Message, verb string) error {
	if !m.Status.Mutable() {
		return conflict("only scheduled messages can be %s; message %d is %s", verb, m.ID, m.Status)
	}
	return nil
}

// Cancel voids a scheduled message. Its content is left as it was.
func (s *MessageService) Cancel(ctx context.Context, therapistID, id int64, expectedVersion *int) (model.Message, error) {
	m, err := s.message(ctx, therapistID, id)
	if err != nil {
		return model.Message{}, err
	}
	if err := checkVersion(m, expectedVersion); err != nil {
		return model.Message{}, err
	}
	if err := checkMutable(m, "cancelled"); err != nil {
		return model.Message{}, err
	}

	m.Status = model.Cancelled
	if err := s.store.UpdateMessage(ctx, &m, model.Scheduled); err != nil {
		return model.Message{}, staleOr(err, id)
	}
	s.transition(model.Scheduled, model.Cancelled)
	s.audit("cancel", therapistID, m)
	return m, nil
}

type EditInput struct {
	Content         *string
	RecipientPhone  *string
	SendAt          *time.Time
	ExpectedVersion *int
}

// EditScheduled applies a partial update to a scheduled message.
func (s *MessageService) EditScheduled(ctx context.Context, therapistID, id int64, in EditInput) (model.Message, error) {
	if in.Content == nil && in.RecipientPhone == nil && in.SendAt == nil {
		return model.Message{}, invalid("nothing to update: provide content, recipient_phone or send_at")
	}

	m, err := s.message(ctx, therapistID, id)
	if err != nil {
		return model.Message{}, err
	}
	if err := checkVersion(m, in.ExpectedVersion); err != nil {
		return model.Message{}, err
	}
	if err := checkMutable(m, "edited"); err != nil {
		return model.Message{}, err
	}

	if in.Content != nil {
		if !m.MessageType.Policy().EditableContent {
			return model.Message{}, invalid("content of %s messages cannot be edited", m.MessageType)
		}
		content, err := s.checkContent(*in.Content)
		if err != nil {
			return model.Message{}, err
		}
		m.Content = content
	}

	if in.RecipientPhone != nil {
		p, err := s.patient(ctx, therapistID, m.PatientID)
		if err != nil {
			return model.Message{}, err
		}
		to, err := s.recipient(p, in.RecipientPhone)
		if err != nil {
			return model.Message{}, err
		}
		m.RecipientPhone = to
	}

	if in.SendAt != nil {
		if !in.SendAt.After(s.clock()) {
			return model.Message{}, invalid("send_at must be in the future")
		}
		at := in.SendAt.UTC()
		m.ScheduledSendAt = &at
	}

	if err := s.store.UpdateMessage(ctx, &m, model.Scheduled); err != nil {
		return model.Message{}, staleOr(err, id)
	}
	s.audit("edit", therapistID, m)
	return m, nil
}

// staleOr explains a lost compare-and-set, which usually means the
// dispatcher picked the message up in the meantime.
func staleOr(err error, id int64) error {
	if errors.Is(err, repo.ErrConflict) {
		return conflict("message %d changed since it was loaded (it may have just been sent); refresh and try again", id)
	}
	return fromRepo(err, "message")
}

func (s *MessageService) Get(ctx context.Context, therapistID, id int64) (model.Message, error) {
	return s.message(ctx, therapistID, id)
}

func (s *MessageService) List(ctx context.Context, therapistID int64, f model.MessageFilter) ([]model.Message, error) {
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return nil, invalid("date_to is before date_from")
	}
	msgs, err := s.store.ListMessages(ctx, therapistID, f)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

func (s *MessageService) ListForPatient(ctx context.Context, therapistID, patientID int64) ([]model.Message, error) {
	if _, err := s.patient(ctx, therapistID, patientID); err != nil {
		return nil, err
	}
	return s.List(ctx, therapistID, model.MessageFilter{PatientID: &patientID})
}
