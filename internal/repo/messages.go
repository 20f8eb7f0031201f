package repo

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/therapycompanion/reminders/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row exists but its version or status no longer
	// matches what the caller expected, or a unique key is taken.
	ErrConflict = errors.New("conflict")
)

const (
	DefaultListLimit = 200
	MaxListLimit     = 500
)

type MessageRepository interface {
	// CreateMessage inserts m and fills in ID, Version, CreatedAt and UpdatedAt.
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, therapistID, id int64) (model.Message, error)
	// ListMessages returns the therapist's messages, newest first.
	ListMessages(ctx context.Context, therapistID int64, f model.MessageFilter) ([]model.Message, error)
	// UpdateMessage writes the mutable fields of m if the stored version equals
	// m.Version and the stored status is one of from. On success m.Version and
	// m.UpdatedAt are advanced.
	UpdateMessage(ctx context.Context, m *model.Message, from ...model.Status) error

	// ClaimDue moves scheduled messages whose send time has passed to
	// approved, stamps claimed_at with now and returns them, oldest first.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.Message, error)
	// ReleaseClaim puts a claimed message that was never handed to the
	// provider back to scheduled.
	ReleaseClaim(ctx context.Context, id int64) error
	// FailStaleClaims marks failed every approved message claimed before
	// claimedBefore and returns their ids. Such a claim belongs to a delivery
	// attempt that died without recording an outcome.
	FailStaleClaims(ctx context.Context, claimedBefore time.Time, reason string) ([]int64, error)
	MarkSent(ctx context.Context, id int64, providerMessageID string, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	// MarkDelivered moves a sent message to delivered. When id is zero the
	// message is found by provider id alone.
	MarkDelivered(ctx context.Context, id int64, providerMessageID string, at time.Time) (int64, error)
}

type PatientRepository interface {
	CreatePatient(ctx context.Context, p *model.Patient) error
	GetPatient(ctx context.Context, therapistID, id int64) (model.Patient, error)
	ListPatients(ctx context.Context, therapistID int64) ([]model.Patient, error)
}

type TherapistRepository interface {
	CreateTherapist(ctx context.Context, t *model.Therapist) error
	GetTherapist(ctx context.Context, id int64) (model.Therapist, error)
	GetTherapistByEmail(ctx context.Context, email string) (model.Therapist, error)
}

type Store interface {
	MessageRepository
	PatientRepository
	TherapistRepository
	Ping(ctx context.Context) error
	Close() error
}

func listLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	}
	return n
}

func statusStrings(ss []model.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func sortByScheduled(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i].ScheduledSendAt, msgs[j].ScheduledSendAt
		if a == nil || b == nil {
			return msgs[i].ID < msgs[j].ID
		}
		if a.Equal(*b) {
			return msgs[i].ID < msgs[j].ID
		}
		return a.Before(*b)
	})
}
