package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/therapycompanion/reminders/internal/model"
)

type therapistRow struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"uniqueIndex;not null"`
	FullName     string
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

func (therapistRow) TableName() string { return "therapists" }

type patientRow struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	TherapistID    int64 `gorm:"index;not null"`
	FullName       string
	Phone          string
	NextSessionAt  *time.Time
	AllowAIContact bool
	CreatedAt      time.Time
}

func (patientRow) TableName() string { return "patients" }

type messageRow struct {
	ID                int64 `gorm:"primaryKey;autoIncrement"`
	TherapistID       int64 `gorm:"index;not null"`
	PatientID         int64 `gorm:"index;not null"`
	Content           string
	MessageType       string
	Status            string `gorm:"index"`
	Channel           string
	RecipientPhone    string
	RelatedSessionID  *int64
	ScheduledSendAt   *time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ApprovedAt        *time.Time
	RejectedAt        *time.Time
	RejectionReason   *string
	ProviderMessageID *string `gorm:"index"`
	LastError         *string
	ClaimedAt         *time.Time
	GeneratedByAI     bool
	RequiresApproval  bool
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (messageRow) TableName() string { return "messages" }

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:                r.ID,
		TherapistID:       r.TherapistID,
		PatientID:         r.PatientID,
		Content:           r.Content,
		MessageType:       model.MessageType(r.MessageType),
		Status:            model.Status(r.Status),
		Channel:           model.Channel(r.Channel),
		RecipientPhone:    r.RecipientPhone,
		RelatedSessionID:  r.RelatedSessionID,
		ScheduledSendAt:   utc(r.ScheduledSendAt),
		SentAt:            utc(r.SentAt),
		DeliveredAt:       utc(r.DeliveredAt),
		ApprovedAt:        utc(r.ApprovedAt),
		RejectedAt:        utc(r.RejectedAt),
		RejectionReason:   r.RejectionReason,
		ProviderMessageID: r.ProviderMessageID,
		LastError:         r.LastError,
		ClaimedAt:         utc(r.ClaimedAt),
		GeneratedByAI:     r.GeneratedByAI,
		RequiresApproval:  r.RequiresApproval,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

func (r patientRow) toModel() model.Patient {
	return model.Patient{
		ID:             r.ID,
		TherapistID:    r.TherapistID,
		FullName:       r.FullName,
		Phone:          r.Phone,
		NextSessionAt:  utc(r.NextSessionAt),
		AllowAIContact: r.AllowAIContact,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func (r therapistRow) toModel() model.Therapist {
	return model.Therapist{
		ID:           r.ID,
		Email:        r.Email,
		FullName:     r.FullName,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

// SQLiteStore keeps everything in a single SQLite file. It is meant for local
// development and tests; the dispatcher claim relies on SQLite serializing
// writers rather than on row locks.
type SQLiteStore struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&therapistRow{}, &patientRow{}, &messageRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, m *model.Message) error {
	now := time.Now().UTC()
	if m.Channel == "" {
		m.Channel = model.WhatsApp
	}

	row := messageRow{
		TherapistID:      m.TherapistID,
		PatientID:        m.PatientID,
		Content:          m.Content,
		MessageType:      string(m.MessageType),
		Status:           string(m.Status),
		Channel:          string(m.Channel),
		RecipientPhone:   m.RecipientPhone,
		RelatedSessionID: m.RelatedSessionID,
		ScheduledSendAt:  utc(m.ScheduledSendAt),
		ApprovedAt:       utc(m.ApprovedAt),
		ClaimedAt:        utc(m.ClaimedAt),
		GeneratedByAI:    m.GeneratedByAI,
		RequiresApproval: m.RequiresApproval,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}

	m.ID, m.Version, m.CreatedAt, m.UpdatedAt = row.ID, row.Version, now, now
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, therapistID, id int64) (model.Message, error) {
	var row messageRow
	err := s.db.WithContext(ctx).Where("id = ? AND therapist_id = ?", id, therapistID).First(&row).Error
	if err != nil {
		return model.Message{}, notFound(err)
	}
	return row.toModel(), nil
}

// ListMessages applies the date range in Go because SQLite keeps timestamps
// as text.
func (s *SQLiteStore) ListMessages(ctx context.Context, therapistID int64, f model.MessageFilter) ([]model.Message, error) {
	q := s.db.WithContext(ctx).Where("therapist_id = ?", therapistID)
	if f.PatientID != nil {
		q = q.Where("patient_id = ?", *f.PatientID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	}

	var rows []messageRow
	if err := q.Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	limit := listLimit(f.Limit)
	out := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		m := r.toModel()
		at := m.CreatedAt
		if m.ScheduledSendAt != nil {
			at = *m.ScheduledSendAt
		} else if m.SentAt != nil {
			at = *m.SentAt
		}
		if f.DateFrom != nil && at.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && at.After(*f.DateTo) {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, m *model.Message, from ...model.Status) error {
	now := time.Now().UTC()

	q := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("id = ? AND therapist_id = ? AND version = ?", m.ID, m.TherapistID, m.Version)
	if len(from) > 0 {
		q = q.Where("status IN ?", statusStrings(from))
	}

	res := q.Updates(map[string]any{
		"content":             m.Content,
		"status":              string(m.Status),
		"recipient_phone":     m.RecipientPhone,
		"scheduled_send_at":   utc(m.ScheduledSendAt),
		"sent_at":             utc(m.SentAt),
		"approved_at":         utc(m.ApprovedAt),
		"rejected_at":         utc(m.RejectedAt),
		"rejection_reason":    m.RejectionReason,
		"provider_message_id": m.ProviderMessageID,
		"last_error":          m.LastError,
		"claimed_at":          utc(m.ClaimedAt),
		"version":             m.Version + 1,
		"updated_at":          now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&messageRow{}).
			Where("id = ? AND therapist_id = ?", m.ID, m.TherapistID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrConflict
		}
		return ErrNotFound
	}

	m.Version++
	m.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	now = now.UTC()

	var claimed []model.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []messageRow
		if err := tx.Where("status = ? AND scheduled_send_at IS NOT NULL", string(model.Scheduled)).
			Find(&rows).Error; err != nil {
			return err
		}

		var due []model.Message
		for _, r := range rows {
			m := r.toModel()
			if !m.ScheduledSendAt.After(now) {
				due = append(due, m)
			}
		}
		sortByScheduled(due)
		if len(due) > limit {
			due = due[:limit]
		}

		for _, m := range due {
			approvedAt := m.ApprovedAt
			if approvedAt == nil {
				approvedAt = &now
			}
			res := tx.Model(&messageRow{}).
				Where("id = ? AND status = ? AND version = ?", m.ID, string(model.Scheduled), m.Version).
				Updates(map[string]any{
					"status":      string(model.Approved),
					"approved_at": approvedAt,
					"claimed_at":  now,
					"version":     m.Version + 1,
					"updated_at":  now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			m.Status = model.Approved
			m.ApprovedAt = approvedAt
			m.ClaimedAt = &now
			m.Version++
			m.UpdatedAt = now
			claimed = append(claimed, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *SQLiteStore) MarkSent(ctx context.Context, id int64, providerMessageID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("id = ? AND status = ?", id, string(model.Approved)).
		Updates(map[string]any{
			"status":              string(model.Sent),
			"sent_at":             at.UTC(),
			"provider_message_id": providerMessageID,
			"last_error":          nil,
			"version":             gorm.Expr("version + 1"),
			"updated_at":          time.Now().UTC(),
		})
	return affectedOrConflict(res)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	res := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("id = ? AND status = ?", id, string(model.Approved)).
		Updates(map[string]any{
			"status":     string(model.Failed),
			"last_error": reason,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	return affectedOrConflict(res)
}

func (s *SQLiteStore) ReleaseClaim(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("id = ? AND status = ? AND claimed_at IS NOT NULL AND scheduled_send_at IS NOT NULL", id, string(model.Approved)).
		Updates(map[string]any{
			"status":     string(model.Scheduled),
			"claimed_at": nil,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	return affectedOrConflict(res)
}

// FailStaleClaims compares claim times in Go for the same reason
// ListMessages does.
func (s *SQLiteStore) FailStaleClaims(ctx context.Context, claimedBefore time.Time, reason string) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []messageRow
		if err := tx.Where("status = ? AND claimed_at IS NOT NULL", string(model.Approved)).
			Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			if !r.ClaimedAt.Before(claimedBefore) {
				continue
			}
			res := tx.Model(&messageRow{}).
				Where("id = ? AND status = ? AND version = ?", r.ID, string(model.Approved), r.Version).
				Updates(map[string]any{
					"status":     string(model.Failed),
					"last_error": reason,
					"version":    r.Version + 1,
					"updated_at": time.Now().UTC(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				ids = append(ids, r.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLiteStore) MarkDelivered(ctx context.Context, id int64, providerMessageID string, at time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Where("provider_message_id = ? AND status = ?", providerMessageID, string(model.Sent))
	if id != 0 {
		q = q.Where("id = ?", id)
	}

	var row messageRow
	if err := q.First(&row).Error; err != nil {
		return 0, notFound(err)
	}

	res := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("id = ? AND status = ?", row.ID, string(model.Sent)).
		Updates(map[string]any{
			"status":       string(model.Delivered),
			"delivered_at": at.UTC(),
			"version":      gorm.Expr("version + 1"),
			"updated_at":   time.Now().UTC(),
		})
	if err := affectedOrConflict(res); err != nil {
		return 0, err
	}
	return row.ID, nil
}

func affectedOrConflict(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) CreatePatient(ctx context.Context, p *model.Patient) error {
	row := patientRow{
		TherapistID:    p.TherapistID,
		FullName:       p.FullName,
		Phone:          p.Phone,
		NextSessionAt:  utc(p.NextSessionAt),
		AllowAIContact: p.AllowAIContact,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	p.ID, p.CreatedAt = row.ID, row.CreatedAt
	return nil
}

func (s *SQLiteStore) GetPatient(ctx context.Context, therapistID, id int64) (model.Patient, error) {
	var row patientRow
	if err := s.db.WithContext(ctx).Where("id = ? AND therapist_id = ?", id, therapistID).First(&row).Error; err != nil {
		return model.Patient{}, notFound(err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) ListPatients(ctx context.Context, therapistID int64) ([]model.Patient, error) {
	var rows []patientRow
	if err := s.db.WithContext(ctx).Where("therapist_id = ?", therapistID).Order("full_name, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Patient, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *SQLiteStore) CreateTherapist(ctx context.Context, t *model.Therapist) error {
	row := therapistRow{
		Email:        t.Email,
		FullName:     t.FullName,
		PasswordHash: t.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&therapistRow{}).Where("email = ?", t.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrConflict
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return err
	}

	t.ID, t.CreatedAt = row.ID, row.CreatedAt
	return nil
}

func (s *SQLiteStore) GetTherapist(ctx context.Context, id int64) (model.Therapist, error) {
	var row therapistRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return model.Therapist{}, notFound(err)
	}
	return row.toModel(), nil
}

func (s *SQLiteStore) GetTherapistByEmail(ctx context.Context, email string) (model.Therapist, error) {
	var row therapistRow
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&row).Error; err != nil {
		return model.Therapist{}, notFound(err)
	}
	return row.toModel(), nil
}

