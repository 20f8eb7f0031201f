package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/therapycompanion/reminders/internal/model"
)

const patientColumns = `id, therapist_id, full_name, phone, next_session_at, allow_ai_contact, created_at`

func scanPatient(row pgx.Row) (model.Patient, error) {
	var p model.Patient
	err := row.Scan(&p.ID, &p.TherapistID, &p.FullName, &p.Phone, &p.NextSessionAt, &p.AllowAIContact, &p.CreatedAt)
	return p, err
}

func (s *PostgresStore) CreatePatient(ctx context.Context, p *model.Patient) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO patients (therapist_id, full_name, phone, next_session_at, allow_ai_contact, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, p.TherapistID, p.FullName, p.Phone, p.NextSessionAt, p.AllowAIContact, time.Now().UTC(),
	).Scan(&p.ID, &p.CreatedAt)
}

func (s *PostgresStore) GetPatient(ctx context.Context, therapistID, id int64) (model.Patient, error) {
	p, err := scanPatient(s.pool.QueryRow(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE id = $1 AND therapist_id = $2`, id, therapistID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Patient{}, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) ListPatients(ctx context.Context, therapistID int64) ([]model.Patient, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE therapist_id = $1 ORDER BY full_name, id`, therapistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateTherapist(ctx context.Context, t *model.Therapist) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO therapists (email, full_name, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, t.Email, t.FullName, t.PasswordHash, time.Now().UTC()).Scan(&t.ID, &t.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetTherapist(ctx context.Context, id int64) (model.Therapist, error) {
	return s.getTherapist(ctx, `id = $1`, id)
}

func (s *PostgresStore) GetTherapistByEmail(ctx context.Context, email string) (model.Therapist, error) {
	return s.getTherapist(ctx, `email = $1`, email)
}

func (s *PostgresStore) getTherapist(ctx context.Context, cond string, arg any) (model.Therapist, error) {
	var t model.Therapist
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, full_name, password_hash, created_at FROM therapists WHERE `+cond, arg,
	).Scan(&t.ID, &t.Email, &t.FullName, &t.PasswordHash, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Therapist{}, ErrNotFound
	}
	return t, err
}
