// Package apitest starts the real HTTP API on an httptest server backed by a
// temporary SQLite database and a recording WhatsApp sender.
package apitest

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/therapycompanion/reminders/internal/api"
	"github.com/therapycompanion/reminders/internal/auth"
	"github.com/therapycompanion/reminders/internal/generator"
	"github.com/therapycompanion/reminders/internal/metrics"
	"github.com/therapycompanion/reminders/internal/model"
	"github.com/therapycompanion/reminders/internal/repo"
	"github.com/therapycompanion/reminders/internal/scheduler"
	"github.com/therapycompanion/reminders/internal/service"
)

const (
	Secret        = "apitest-secret"
	ReceiptSecret = "apitest-receipts"
	Email         = "noa@clinic.test"
	Password      = "correct horse"
	PatientPhone  = "+972501234567"
)

type Sent struct {
	Phone string
	Body  string
}

// WhatsApp records every message instead of sending it.
type WhatsApp struct {
	mu   sync.Mutex
	sent []Sent
	err  error
}

func (w *WhatsApp) Send(_ context.Context, phone, body string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return "", w.err
	}
	w.sent = append(w.sent, Sent{Phone: phone, Body: body})
	return fmt.Sprintf("wamid-%d", len(w.sent)), nil
}

func (w *WhatsApp) Fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

func (w *WhatsApp) Sent() []Sent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Sent(nil), w.sent...)
}

// Clock is the server clock. It starts at the real time and only moves when
// advanced.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type Env struct {
	Server     *httptest.Server
	URL        string
	Store      *repo.SQLiteStore
	Messages   *service.MessageService
	Dispatcher *scheduler.Dispatcher
	Issuer     *auth.Issuer
	WhatsApp   *WhatsApp
	Clock      *Clock

	Therapist model.Therapist
	Patient   model.Patient
	// Token is a valid bearer token for Therapist.
	Token string
}

func New(t testing.TB) *Env {
	t.Helper()
	ctx := context.Background()

	store, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := zerolog.Nop()
	m := metrics.New()
	clock := &Clock{now: time.Now().UTC()}
	wa := &WhatsApp{}
	issuer := auth.NewIssuer(Secret, time.Hour)

	msgs := service.NewMessageService(store, generator.Template{}, wa, service.Options{
		ContentMax: 1600,
		Metrics:    m,
		Logger:     log,
		Now:        clock.Now,
	})
	accounts := service.NewAccountService(store, issuer, bcrypt.MinCost, log)

	dispatcher, err := scheduler.New(time.Hour, msgs.DispatchDue, log)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	t.Cleanup(func() { dispatcher.Stop() })

	th, err := accounts.Register(ctx, Email, Password, "Noa Levi")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	next := time.Date(2030, 3, 4, 16, 30, 0, 0, time.UTC)
	p, err := msgs.CreatePatient(ctx, th.ID, service.PatientInput{
		FullName:      "Dana",
		Phone:         PatientPhone,
		NextSessionAt: &next,
	})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	tok, err := issuer.Issue(th.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	h := api.NewHandler(api.Deps{
		Messages:      msgs,
		Accounts:      accounts,
		Dispatcher:    dispatcher,
		Issuer:        issuer,
		Metrics:       m,
		Logger:        log,
		Ping:          store.Ping,
		ReceiptSecret: ReceiptSecret,
	})
	srv := httptest.NewServer(api.Router(h))
	t.Cleanup(srv.Close)

	return &Env{
		Server:     srv,
		URL:        srv.URL,
		Store:      store,
		Messages:   msgs,
		Dispatcher: dispatcher,
		Issuer:     issuer,
		WhatsApp:   wa,
		Clock:      clock,
		Therapist:  th,
		Patient:    p,
		Token:      tok.AccessToken,
	}
}
