// Package composer drives the compose dialog: generate a suggestion, let the
// therapist adjust it, then send it now or schedule it in one request.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/therapycompanion/reminders/internal/apiclient"
	"github.com/therapycompanion/reminders/internal/model"
	"github.com/therapycompanion/reminders/internal/phone"
)

type State string

const (
	Closed     State = "closed"
	Open       State = "open"
	Generating State = "generating"
	Generated  State = "generated"
	Confirming State = "confirming"
)

var (
	ErrWrongState      = errors.New("action not available in the current state")
	ErrContentLocked   = errors.New("content of this message type cannot be edited")
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrNoRecipient     = errors.New("no recipient phone number")
	ErrInvalidPhone    = errors.New("recipient phone number is not valid")
	ErrSendAtInThePast = errors.New("scheduled time is in the past")
)

type API interface {
	GenerateContent(ctx context.Context, req apiclient.GenerateRequest) (apiclient.GeneratedContent, error)
	Compose(ctx context.Context, req apiclient.ComposeRequest) (model.Message, error)
}

type Composer struct {
	api         API
	now         func() time.Time
	countryCode string

	mu          sync.Mutex
	state       State
	patient     model.Patient
	messageType model.MessageType
	context     map[string]string
	content     string
	recipient   string
	custom      bool
	sendAt      *time.Time
	sessionID   *int64
	err         string
}

type Option func(*Composer)

// WithClock replaces the local clock used to reject past send times.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}

func WithCountryCode(code string) Option {
	return func(c *Composer) { c.countryCode = code }
}

func New(api API, opts ...Option) *Composer {
	c := &Composer{api: api, now: time.Now, countryCode: phone.DefaultCountryCode, state: Closed}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open starts a new composition for p. Anything left from before is
// discarded.
func (c *Composer) Open(p model.Patient, mt model.MessageType) error {
	if !mt.Valid() {
		return fmt.Errorf("unknown message type %q", mt)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
	c.state = Open
	c.patient = p
	c.messageType = mt
	c.recipient = p.Phone
	return nil
}

// Close discards all input.
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Composer) reset() {
	c.state = Closed
	c.patient = model.Patient{}
	c.messageType = ""
	c.context = nil
	c.content = ""
	c.recipient = ""
	c.custom = false
	c.sendAt = nil
	c.sessionID = nil
	c.err = ""
}

func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the text shown to the therapist for the last failure.
func (c *Composer) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Composer) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

func (c *Composer) Recipient() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recipient
}

func (c *Composer) SendAt() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendAt
}

// CanSubmit reports whether the send and schedule controls are shown.
func (c *Composer) CanSubmit() bool {
	return c.State() == Generated
}

// ContentEditable is false for types whose text the server renders.
func (c *Composer) ContentEditable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageType.Policy().EditableContent
}

// fail records err for display and returns it.
func (c *Composer) fail(err error) error {
	c.err = err.Error()
	return err
}

func (c *Composer) SetContext(ctx map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.context = ctx
}

func (c *Composer) SetRelatedSession(id *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Generate asks the server for a suggestion. It may be repeated to get a
// new one. A failure leaves the previous state and content in place.
func (c *Composer) Generate(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Open && c.state != Generated {
		c.mu.Unlock()
		return ErrWrongState
	}
	prev := c.state
	c.state = Generating
	c.err = ""
	req := apiclient.GenerateRequest{PatientID: c.patient.ID, MessageType: c.messageType, Context: c.context}
	c.mu.Unlock()

	out, err := c.api.GenerateContent(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Generating {
		// Closed while the request was in flight.
		return ErrWrongState
	}
	if err != nil {
		c.state = prev
		return c.fail(err)
	}
	c.content = out.Content
	c.state = Generated
	return nil
}

func (c *Composer) EditContent(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Generated {
		return ErrWrongState
	}
	if !c.messageType.Policy().EditableContent {
		return c.fail(ErrContentLocked)
	}
	c.content = s
	return nil
}

// UseCustomRecipient overrides the patient's phone. Only the format is
// checked.
func (c *Composer) UseCustomRecipient(raw string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return ErrWrongState
	}
	n, err := phone.Normalize(raw, c.countryCode)
	if err != nil {
		return c.fail(fmt.Errorf("%w: %v", ErrInvalidPhone, err))
	}
	c.recipient = n
	c.custom = true
	return nil
}

func (c *Composer) UsePatientPhone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recipient = c.patient.Phone
	c.custom = false
}

// SetSendAt picks a delivery time. Nil means send now. Times before the
// local clock are refused without contacting the server.
func (c *Composer) SetSendAt(t *time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return ErrWrongState
	}
	if t != nil && t.Before(c.now()) {
		return c.fail(ErrSendAtInThePast)
	}
	if t == nil {
		c.sendAt = nil
		return nil
	}
	at := *t
	c.sendAt = &at
	return nil
}

func (c *Composer) validate() error {
	if c.messageType.Policy().EditableContent && strings.TrimSpace(c.content) == "" {
		return ErrEmptyContent
	}
	if strings.TrimSpace(c.recipient) == "" {
		return ErrNoRecipient
	}
	if _, err := phone.Normalize(c.recipient, c.countryCode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	if c.sendAt != nil && c.sendAt.Before(c.now()) {
		return ErrSendAtInThePast
	}
	return nil
}

// Submit sends exactly one compose request. On success the composer closes
// and returns the stored message. On failure it stays on the generated
// step with the error shown.
func (c *Composer) Submit(ctx context.Context) (model.Message, error) {
	c.mu.Lock()
	if c.state != Generated {
		c.mu.Unlock()
		return model.Message{}, ErrWrongState
	}
	if err := c.validate(); err != nil {
		defer c.mu.Unlock()
		return model.Message{}, c.fail(err)
	}

	req := apiclient.ComposeRequest{
		PatientID:        c.patient.ID,
		MessageType:      c.messageType,
		Content:          strings.TrimSpace(c.content),
		SendAt:           c.sendAt,
		RelatedSessionID: c.sessionID,
	}
	if c.custom {
		r := c.recipient
		req.RecipientPhone = &r
	}
	c.state = Confirming
	c.err = ""
	c.mu.Unlock()

	m, err := c.api.Compose(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.state == Confirming {
			c.state = Generated
		}
		return model.Message{}, c.fail(err)
	}
	c.reset()
	return m, nil
}
