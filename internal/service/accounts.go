package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	"github.com/therapycompanion/reminders/internal/auth"
	"github.com/therapycompanion/reminders/internal/model"
	"github.com/therapycompanion/reminders/internal/repo"
)

const minPasswordLen = 8

// AccountService registers therapists and logs them in.
type AccountService struct {
	store  repo.TherapistRepository
	issuer *auth.Issuer
	cost   int
	log    zerolog.Logger
}

func NewAccountService(store repo.TherapistRepository, issuer *auth.Issuer, bcryptCost int, log zerolog.Logger) *AccountService {
	return &AccountService{store: store, issuer: issuer, cost: bcryptCost, log: log}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *AccountService) Register(ctx context.Context, email, password, fullName string) (model.Therapist, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return model.Therapist{}, invalid("invalid email address")
	}
	if len(password) < minPasswordLen {
		return model.Therapist{}, invalid("password must be at least %d characters", minPasswordLen)
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return model.Therapist{}, invalid("full_name is required")
	}

	hash, err := auth.HashPassword(password, a.cost)
	if err != nil {
		return model.Therapist{}, err
	}

	t := model.Therapist{Email: email, FullName: fullName, PasswordHash: hash}
	if err := a.store.CreateTherapist(ctx, &t); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return model.Therapist{}, conflict("email already registered")
		}
		return model.Therapist{}, err
	}
	a.log.Info().Bool("audit", true).Str("action", "register").Int64("therapist_id", t.ID).Msg("therapist registered")
	return t, nil
}

// RegisterAndLogin creates the account and returns a token for it.
func (a *AccountService) RegisterAndLogin(ctx context.Context, email, password, fullName string) (Grant, error) {
	t, err := a.Register(ctx, email, password, fullName)
	if err != nil {
		return Grant{}, err
	}
	return a.grant(t)
}

// Grant is a freshly issued token together with the therapist it belongs to.
type Grant struct {
	Token     auth.Token
	Therapist model.Therapist
}

// Login checks the credentials and issues an access token. Unknown emails
// and wrong passwords give the same error.
func (a *AccountService) Login(ctx context.Context, email, password string) (Grant, error) {
	t, err := a.store.GetTherapistByEmail(ctx, normalizeEmail(email))
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return Grant{}, err
	}
	if err != nil || !auth.CheckPassword(t.PasswordHash, password) {
		return Grant{}, &Error{kind: ErrUnauthorized, msg: "Incorrect email or password"}
	}
	return a.grant(t)
}

// Refresh issues a new token for a therapist that is already authenticated.
func (a *AccountService) Refresh(ctx context.Context, therapistID int64) (Grant, error) {
	t, err := a.store.GetTherapist(ctx, therapistID)
	if errors.Is(err, repo.ErrNotFound) {
		return Grant{}, &Error{kind: ErrUnauthorized, msg: "Could not validate credentials"}
	}
	if err != nil {
		return Grant{}, err
	}
	return a.grant(t)
}

func (a *AccountService) grant(t model.Therapist) (Grant, error) {
	tok, err := a.issuer.Issue(t.ID)
	if err != nil {
		return Grant{}, err
	}
	return Grant{Token: tok, Therapist: t}, nil
}
