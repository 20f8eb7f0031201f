package service

import (
	"context"
	"strings"
	"time"

	"github.com/therapycompanion/reminders/internal/model"
	"github.com/therapycompanion/reminders/internal/phone"
)

type PatientInput struct {
	FullName      string
	Phone         string
	NextSessionAt *time.Time
	// AllowAIContact defaults to true when nil.
	AllowAIContact *bool
}

func (s *MessageService) CreatePatient(ctx context.Context, therapistID int64, in PatientInput) (model.Patient, error) {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return model.Patient{}, invalid("full_name is required")
	}

	p := model.Patient{
		TherapistID:    therapistID,
		FullName:       name,
		AllowAIContact: true,
	}
	if in.AllowAIContact != nil {
		p.AllowAIContact = *in.AllowAIContact
	}
	if in.NextSessionAt != nil {
		at := in.NextSessionAt.UTC()
		p.NextSessionAt = &at
	}
	if strings.TrimSpace(in.Phone) != "" {
		n, err := phone.Normalize(in.Phone, s.countryCode)
		if err != nil {
			return model.Patient{}, invalid("invalid phone: %v", err)
		}
		p.Phone = n
	}

	if err := s.store.CreatePatient(ctx, &p); err != nil {
		return model.Patient{}, err
	}
	s.log.Info().Bool("audit", true).Str("action", "create_patient").
		Int64("therapist_id", therapistID).Int64("patient_id", p.ID).Msg("patient created")
	return p, nil
}

func (s *MessageService) GetPatient(ctx context.Context, therapistID, id int64) (model.Patient, error) {
	return s.patient(ctx, therapistID, id)
}

func (s *MessageService) ListPatients(ctx context.Context, therapistID int64) ([]model.Patient, error) {
	ps, err := s.store.ListPatients(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	if ps == nil {
		ps = []model.Patient{}
	}
	return ps, nil
}
