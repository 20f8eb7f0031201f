package model

import "time"

type Patient struct {
	ID             int64      `json:"id"`
	TherapistID    int64      `json:"therapist_id"`
	FullName       string     `json:"full_name"`
	Phone          string     `json:"phone,omitempty"`
	NextSessionAt  *time.Time `json:"next_session_at,omitempty"`
	AllowAIContact bool       `json:"allow_ai_contact"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Therapist struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
