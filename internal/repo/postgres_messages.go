package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therapycompanion/reminders/internal/model"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPool opens a pgx pool and checks that the database answers.
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const messageColumns = `id, therapist_id, patient_id, content, message_type, status, channel,
	recipient_phone, related_session_id, scheduled_send_at, sent_at, delivered_at,
	approved_at, rejected_at, rejection_reason, provider_message_id, last_error,
	claimed_at, generated_by_ai, requires_approval, version, created_at, updated_at`

func scanMessage(row pgx.Row) (model.Message, error) {
	var (
		m                        model.Message
		msgType, status, channel string
	)
	err := row.Scan(
		&m.ID, &m.TherapistID, &m.PatientID, &m.Content, &msgType, &status, &channel,
		&m.RecipientPhone, &m.RelatedSessionID, &m.ScheduledSendAt, &m.SentAt, &m.DeliveredAt,
		&m.ApprovedAt, &m.RejectedAt, &m.RejectionReason, &m.ProviderMessageID, &m.LastError,
		&m.ClaimedAt, &m.GeneratedByAI, &m.RequiresApproval, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return model.Message{}, err
	}
	m.MessageType = model.MessageType(msgType)
	m.Status = model.Status(status)
	m.Channel = model.Channel(channel)
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]model.Message, error) {
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m *model.Message) error {
	now := time.Now().UTC()
	if m.Channel == "" {
		m.Channel = model.WhatsApp
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (
			therapist_id, patient_id, content, message_type, status, channel,
			recipient_phone, related_session_id, scheduled_send_at, approved_at, claimed_at,
			generated_by_ai, requires_approval, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $14)
		RETURNING id, version, created_at, updated_at
	`, m.TherapistID, m.PatientID, m.Content, string(m.MessageType), string(m.Status), string(m.Channel),
		m.RecipientPhone, m.RelatedSessionID, m.ScheduledSendAt, m.ApprovedAt, m.ClaimedAt,
		m.GeneratedByAI, m.RequiresApproval, now)

	return row.Scan(&m.ID, &m.Version, &m.CreatedAt, &m.UpdatedAt)
}

func (s *PostgresStore) GetMessage(ctx context.Context, therapistID, id int64) (model.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND therapist_id = $2`,
		id, therapistID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return m, err
}

// ListMessages filters dates on the time the message is about: its scheduled
// send time, else its send time, else its creation time.
func (s *PostgresStore) ListMessages(ctx context.Context, therapistID int64, f model.MessageFilter) ([]model.Message, error) {
	where := []string{"therapist_id = $1"}
	args := []any{therapistID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", statusStrings(f.Statuses))
	}
	if f.DateFrom != nil {
		add("COALESCE(scheduled_send_at, sent_at, created_at) >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("COALESCE(scheduled_send_at, sent_at, created_at) <= $%d", *f.DateTo)
	}
	args = append(args, listLimit(f.Limit))

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM messages WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		messageColumns, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, m *model.Message, from ...model.Status) error {
	now := time.Now().UTC()

	err := s.pool.QueryRow(ctx, `
		UPDATE messages
		SET content = $3,
		    status = $4,
		    recipient_phone = $5,
		    scheduled_send_at = $6,
		    sent_at = $7,
		    approved_at = $8,
		    rejected_at = $9,
		    rejection_reason = $10,
		    provider_message_id = $11,
		    last_error = $12,
		    claimed_at = $16,
		    version = version + 1,
		    updated_at = $13
		WHERE id = $1 AND therapist_id = $2 AND version = $14
		  AND (cardinality($15::text[]) = 0 OR status = ANY($15))
		RETURNING version, updated_at
	`, m.ID, m.TherapistID, m.Content, string(m.Status), m.RecipientPhone,
		m.ScheduledSendAt, m.SentAt, m.ApprovedAt, m.RejectedAt, m.RejectionReason,
		m.ProviderMessageID, m.LastError, now, m.Version, statusStrings(from), m.ClaimedAt,
	).Scan(&m.Version, &m.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return s.missOrConflict(ctx, m.TherapistID, m.ID)
	}
	return err
}

func (s *PostgresStore) missOrConflict(ctx context.Context, therapistID, id int64) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND therapist_id = $2)`,
		id, therapistID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}
	return ErrNotFound
}

// ClaimDue locks due rows with SKIP LOCKED so concurrent dispatchers never
// claim the same message.
func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	now = now.UTC()

	rows, err := s.pool.Query(ctx, `
		UPDATE messages
		SET status = 'approved',
		    approved_at = COALESCE(approved_at, $1),
		    claimed_at = $1,
		    version = version + 1,
		    updated_at = $1
		WHERE id IN (
			SELECT id FROM messages
			WHERE status = 'scheduled' AND scheduled_send_at <= $1
			ORDER BY scheduled_send_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING `+messageColumns, now, limit)
	if err != nil {
		return nil, err
	}

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	sortByScheduled(msgs)
	return msgs, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, id int64, providerMessageID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'sent',
		    sent_at = $2,
		    provider_message_id = $3,
		    last_error = NULL,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND status = 'approved'
	`, id, at.UTC(), providerMessageID)
	return rowsOrConflict(tag, err)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'failed',
		    last_error = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND status = 'approved'
	`, id, reason)
	return rowsOrConflict(tag, err)
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'scheduled',
		    claimed_at = NULL,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND status = 'approved'
		  AND claimed_at IS NOT NULL AND scheduled_send_at IS NOT NULL
	`, id)
	return rowsOrConflict(tag, err)
}

func (s *PostgresStore) FailStaleClaims(ctx context.Context, claimedBefore time.Time, reason string) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE messages
		SET status = 'failed',
		    last_error = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE status = 'approved' AND claimed_at < $1
		RETURNING id
	`, claimedBefore.UTC(), reason)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, id int64, providerMessageID string, at time.Time) (int64, error) {
	err := s.pool.QueryRow(ctx, `
		UPDATE messages
		SET status = 'delivered',
		    delivered_at = $3,
		    version = version + 1,
		    updated_at = now()
		WHERE ($1::bigint = 0 OR id = $1) AND provider_message_id = $2 AND status = 'sent'
		RETURNING id
	`, id, providerMessageID, at.UTC()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

func rowsOrConflict(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
