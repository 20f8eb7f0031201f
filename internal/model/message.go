package model

import "time"

type Status string

const (
	Draft           Status = "draft"
	PendingApproval Status = "pending_approval"
	Approved        Status = "approved"
	Scheduled       Status = "scheduled"
	Sent            Status = "sent"
	Delivered       Status = "delivered"
	Cancelled       Status = "cancelled"
	Failed          Status = "failed"
	Rejected        Status = "rejected"
)

var allStatuses = []Status{
	Draft, PendingApproval, Approved, Scheduled,
	Sent, Delivered, Cancelled, Failed, Rejected,
}

// transitions lists every status change the service is allowed to make.
// Both the compose path and the draft/approve path go through it.
var transitions = map[Status][]Status{
	Draft:           {PendingApproval, Approved, Scheduled, Rejected},
	PendingApproval: {Approved, Scheduled, Rejected},
	Approved:        {Scheduled, Sent, Failed},
	Scheduled:       {Approved, Cancelled},
	Sent:            {Delivered},
}

func ParseStatus(s string) (Status, bool) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Terminal reports whether the message reached one of its final outcomes.
// Sent and delivered are the same outcome; a receipt may still move one to
// the other.
func (s Status) Terminal() bool {
	switch s {
	case Sent, Delivered, Cancelled, Failed, Rejected:
		return true
	}
	return false
}

// Mutable reports whether a therapist may still edit or cancel the message.
func (s Status) Mutable() bool {
	return s == Scheduled
}

// IsDraft reports whether the message is still in the review stage of the
// draft/approve workflow.
func (s Status) IsDraft() bool {
	return s == Draft || s == PendingApproval
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Channel string

const WhatsApp Channel = "whatsapp"

type Message struct {
	ID                int64       `json:"id"`
	TherapistID       int64       `json:"therapist_id"`
	PatientID         int64       `json:"patient_id"`
	Content           string      `json:"content"`
	MessageType       MessageType `json:"message_type"`
	Status            Status      `json:"status"`
	Channel           Channel     `json:"channel"`
	RecipientPhone    string      `json:"recipient_phone"`
	RelatedSessionID  *int64      `json:"related_session_id,omitempty"`
	ScheduledSendAt   *time.Time  `json:"scheduled_send_at"`
	SentAt            *time.Time  `json:"sent_at"`
	DeliveredAt       *time.Time  `json:"delivered_at,omitempty"`
	ApprovedAt        *time.Time  `json:"approved_at,omitempty"`
	RejectedAt        *time.Time  `json:"rejected_at,omitempty"`
	RejectionReason   *string     `json:"rejection_reason,omitempty"`
	ProviderMessageID *string     `json:"provider_message_id,omitempty"`
	LastError         *string     `json:"last_error,omitempty"`
	// ClaimedAt is set while a delivery attempt owns the message.
	ClaimedAt         *time.Time  `json:"claimed_at,omitempty"`
	GeneratedByAI     bool        `json:"generated_by_ai"`
	RequiresApproval  bool        `json:"requires_approval"`
	Version           int         `json:"version"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// MessageFilter narrows a message listing. Zero values mean "any".
type MessageFilter struct {
	PatientID *int64
	Statuses  []Status
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
}
