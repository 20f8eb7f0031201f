package service

import (
	"context"
	"strings"
	"time"

	"github.com/therapycompanion/reminders/internal/model"
)

// The draft workflow predates Compose: a generated draft is reviewed, then
// approved or rejected, then sent or scheduled. It shares the transition
// table with Compose.

func (s *MessageService) CreateDraft(ctx context.Context, therapistID int64, in GenerateInput) (model.Message, error) {
	if err := checkType(in.MessageType); err != nil {
		return model.Message{}, err
	}
	p, err := s.patient(ctx, therapistID, in.PatientID)
	if err != nil {
		return model.Message{}, err
	}

	content, err := s.generate(ctx, therapistID, p, in.MessageType, in.Context)
	if err != nil {
		return model.Message{}, err
	}

	m := model.Message{
		TherapistID:      therapistID,
		PatientID:        p.ID,
		Content:          content,
		MessageType:      in.MessageType,
		Status:           model.Draft,
		Channel:          model.WhatsApp,
		GeneratedByAI:    !in.MessageType.Policy().Templated,
		RequiresApproval: true,
	}
	if to, err := s.recipient(p, nil); err == nil {
		m.RecipientPhone = to
	}

	if err := s.store.CreateMessage(ctx, &m); err != nil {
		return model.Message{}, err
	}
	s.audit("create_draft", therapistID, m)
	return m, nil
}

func (s *MessageService) Pending(ctx context.Context, therapistID int64) ([]model.Message, error) {
	return s.List(ctx, therapistID, model.MessageFilter{
		Statuses: []model.Status{model.Draft, model.PendingApproval},
	})
}

func (s *MessageService) draft(ctx context.Context, therapistID, id int64) (model.Message, error) {
	m, err := s.message(ctx, therapistID, id)
	if err != nil {
		return model.Message{}, err
	}
	if !m.Status.IsDraft() {
		return model.Message{}, conflict("message %d is %s, not awaiting review", m.ID, m.Status)
	}
	return m, nil
}

func (s *MessageService) Approve(ctx context.Context, therapistID, id int64) (model.Message, error) {
	m, err := s.draft(ctx, therapistID, id)
	if err != nil {
		return model.Message{}, err
	}

	from := m.Status
	now := s.clock()
	m.Status = model.Approved
	m.ApprovedAt = &now
	if err := s.store.UpdateMessage(ctx, &m, from); err != nil {
		return model.Message{}, staleOr(err, id)
	}
	s.transition(from, model.Approved)
	s.audit("approve", therapistID, m)
	return m, nil
}

func (s *MessageService) Reject(ctx context.Context, therapistID, id int64, reason string) (model.Message, error) {
	m, err := s.draft(ctx, therapistID, id)
	if err != nil {
		return model.Message{}, err
	}

	from := m.Status
	now := s.clock()
	m.Status = model.Rejected
	m.RejectedAt = &now
	if r := strings.TrimSpace(reason); r != "" {
		m.RejectionReason = &r
	}
	if err := s.store.UpdateMessage(ctx, &m, from); err != nil {
		return model.Message{}, staleOr(err, id)
	}
	s.transition(from, model.Rejected)
	s.audit("reject", therapistID, m)
	return m, nil
}

func (s *MessageService) EditDraft(ctx context.Context, therapistID, id int64, content string) (model.Message, error) {
	m, err := s.draft(ctx, therapistID, id)
	if err != nil {
		return model.Message{}, err
	}
	if !m.MessageType.Policy().EditableContent {
		return model.Message{}, invalid("content of %s messages cannot be edited", m.MessageType)
	}
	if m.Content, err = s.checkContent(content); err != nil {
		return model.Message{}, err
	}

	if err := s.store.UpdateMessage(ctx, &m, m.Status); err != nil {
		return model.Message{}, staleOr(err, id)
	}
	s.audit("edit_draft", therapistID, m)
	return m, nil
}

// sendable reports whether m may still be sent through the draft workflow.
// Approved messages that a delivery attempt already owns are excluded.
func sendable(m model.Message) bool {
	return m.Status.IsDraft() || (m.Status == model.Approved && m.ScheduledSendAt == nil && m.ClaimedAt == nil)
}

// SendApproved delivers an approved message now.
func (s *MessageService) SendApproved(ctx context.Context, therapistID, id int64) (model.Message, error) {
	m, err := s.message(ctx, therapistID, id)
	if err != nil {
		return model.Message{}, err
	}
	if claimed(m) {
		return model.Message{}, conflict("message %d is already being sent", m.ID)
	}
	if m.Status != model.Approved || m.ScheduledSendAt != nil {
		return model.Message{}, conflict("message %d is %s; only approved messages can be sent", m.ID, m.Status)
	}

	p, err := s.patient(ctx, therapistID, m.PatientID)
	if err != nil {
		return model.Message{}, err
	}
	if err := checkConsent(p); err != nil {
		return model.Message{}, err
	}
	if m.RecipientPhone == "" {
		if m.RecipientPhone, err = s.recipient(p, nil); err != nil {
			return model.Message{}, err
		}
	}

	// The version check makes a concurrent claim lose.
	now := s.clock()
	m.ClaimedAt = &now
	if err := s.store.UpdateMessage(ctx, &m, model.Approved); err != nil {
		return model.Message{}, staleOr(err, id)
	}
	s.audit("send", therapistID, m)
	return s.deliver(ctx, m)
}

type SendOrScheduleInput struct {
	Content        string
	RecipientPhone *string
	SendAt         *time.Time
}

// SendOrSchedule finishes a draft or approved message with the same rule as
// Compose: a future SendAt schedules it, anything else sends it now.
func (s *MessageService) SendOrSchedule(ctx context.Context, therapistID, id int64, in SendOrScheduleInput) (model.Message, error) {
	m, err := s.message(ctx, therapistID, id)
	if err != nil {
		return model.Message{}, err
	}
	if claimed(m) {
		return model.Message{}, conflict("message %d is already being sent", m.ID)
	}
	if !sendable(m) {
		return model.Message{}, conflict("message %d is %s and can no longer be sent or scheduled", m.ID, m.Status)
	}

	p, err := s.patient(ctx, therapistID, m.PatientID)
	if err != nil {
		return model.Message{}, err
	}
	if err := checkConsent(p); err != nil {
		return model.Message{}, err
	}

	switch {
	case m.MessageType.Policy().Templated:
		if m.Content, err = s.content(ctx, therapistID, p, m.MessageType, ""); err != nil {
			return model.Message{}, err
		}
	case strings.TrimSpace(in.Content) != "":
		if m.Content, err = s.checkContent(in.Content); err != nil {
			return model.Message{}, err
		}
	default:
		if m.Content, err = s.checkContent(m.Content); err != nil {
			return model.Message{}, err
		}
	}

	if m.RecipientPhone, err = s.recipient(p, in.RecipientPhone); err != nil {
		return model.Message{}, err
	}

	from := m.Status
	now := s.clock()
	scheduled := in.SendAt != nil && in.SendAt.After(now)
	if scheduled {
		at := in.SendAt.UTC()
		m.Status = model.Scheduled
		m.ScheduledSendAt = &at
	} else {
		m.Status = model.Approved
		if m.ApprovedAt == nil {
			m.ApprovedAt = &now
		}
		m.ClaimedAt = &now
	}
	if from != m.Status && !model.CanTransition(from, m.Status) {
		return model.Message{}, conflict("message %d cannot move from %s to %s", m.ID, from, m.Status)
	}

	if err := s.store.UpdateMessage(ctx, &m, from); err != nil {
		return model.Message{}, staleOr(err, id)
	}
	if from != m.Status {
		s.transition(from, m.Status)
	}
	s.audit("send_or_schedule", therapistID, m)

	if scheduled {
		return m, nil
	}
	return s.deliver(ctx, m)
}
