// Package apiclient is a typed client for the therapist REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/therapycompanion/reminders/internal/model"
)

const (
	basePath = "/api/v1"
	// GenericError is shown when the server gave no detail.
	GenericError = "Something went wrong. Please try again."
)

// APIError is any non-2xx answer.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return GenericError
}

func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

type Client struct {
	baseURL string
	hc      *http.Client
	session *Session
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func New(baseURL string, session *Session, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      http.DefaultClient,
		session: session,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Session() *Session { return c.session }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+basePath+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok, ok := c.session.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var d struct {
			Detail any `json:"detail"`
		}
		if json.Unmarshal(raw, &d) == nil {
			if s, ok := d.Detail.(string); ok {
				apiErr.Detail = s
			}
		}
		if resp.StatusCode == http.StatusUnauthorized && !strings.HasPrefix(path, "/auth/") {
			c.session.Expire(path)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	TherapistID int64  `json:"therapist_id"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
}

func (c *Client) begin(tok TokenResponse) error {
	return c.session.Begin(Credentials{
		AccessToken: tok.AccessToken,
		TherapistID: tok.TherapistID,
		Email:       tok.Email,
		FullName:    tok.FullName,
	})
}

// Login authenticates and starts the session.
func (c *Client) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	var tok TokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, &tok)
	if err != nil {
		return TokenResponse{}, err
	}
	return tok, c.begin(tok)
}

func (c *Client) Register(ctx context.Context, email, password, fullName string) (TokenResponse, error) {
	var tok TokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/register", map[string]string{
		"email": email, "password": password, "full_name": fullName,
	}, &tok)
	if err != nil {
		return TokenResponse{}, err
	}
	return tok, c.begin(tok)
}

func (c *Client) Logout() error {
	return c.session.End()
}

type GenerateRequest struct {
	PatientID   int64             `json:"patient_id"`
	MessageType model.MessageType `json:"message_type"`
	Context     map[string]string `json:"context"`
}

type GeneratedContent struct {
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"message_type"`
}

func (c *Client) GenerateContent(ctx context.Context, req GenerateRequest) (GeneratedContent, error) {
	var out GeneratedContent
	err := c.do(ctx, http.MethodPost, "/messages/generate", req, &out)
	return out, err
}

// ComposeRequest mirrors the compose body. A nil SendAt is sent as null and
// means deliver now.
type ComposeRequest struct {
	PatientID        int64             `json:"patient_id"`
	MessageType      model.MessageType `json:"message_type"`
	Content          string            `json:"content"`
	RecipientPhone   *string           `json:"recipient_phone"`
	SendAt           *time.Time        `json:"send_at"`
	RelatedSessionID *int64            `json:"related_session_id"`
}

func (c *Client) Compose(ctx context.Context, req ComposeRequest) (model.Message, error) {
	var m model.Message
	err := c.do(ctx, http.MethodPost, "/messages/compose", req, &m)
	return m, err
}

type SendOrScheduleRequest struct {
	Content        string     `json:"content"`
	RecipientPhone *string    `json:"recipient_phone"`
	SendAt         *time.Time `json:"send_at"`
}

func (c *Client) SendOrSchedule(ctx context.Context, id int64, req SendOrScheduleRequest) (model.Message, error) {
	var m model.Message
	err := c.do(ctx, http.MethodPost, "/messages/"+strconv.FormatInt(id, 10)+"/send-or-schedule", req, &m)
	return m, err
}

// Cancel cancels a scheduled message. A non-nil expectedVersion makes the
// server refuse with 409 if the message changed since it was read.
func (c *Client) Cancel(ctx context.Context, id int64, expectedVersion *int) (model.Message, error) {
	var in any
	if expectedVersion != nil {
		in = struct {
			ExpectedVersion int `json:"expected_version"`
		}{*expectedVersion}
	}
	var m model.Message
	err := c.do(ctx, http.MethodPost, "/messages/"+strconv.FormatInt(id, 10)+"/cancel", in, &m)
	return m, err
}

// UpdateRequest is a partial update. Nil fields are left unchanged.
type UpdateRequest struct {
	Content         *string    `json:"content,omitempty"`
	RecipientPhone  *string    `json:"recipient_phone,omitempty"`
	SendAt          *time.Time `json:"send_at,omitempty"`
	ExpectedVersion *int       `json:"expected_version,omitempty"`
}

func (c *Client) UpdateMessage(ctx context.Context, id int64, req UpdateRequest) (model.Message, error) {
	var m model.Message
	err := c.do(ctx, http.MethodPatch, "/messages/"+strconv.FormatInt(id, 10), req, &m)
	return m, err
}

func (c *Client) GetMessage(ctx context.Context, id int64) (model.Message, error) {
	var m model.Message
	err := c.do(ctx, http.MethodGet, "/messages/"+strconv.FormatInt(id, 10), nil, &m)
	return m, err
}

func (c *Client) ListPatientMessages(ctx context.Context, patientID int64) ([]model.Message, error) {
	var ms []model.Message
	err := c.do(ctx, http.MethodGet, "/messages/patient/"+strconv.FormatInt(patientID, 10), nil, &ms)
	return ms, err
}

type Filter struct {
	PatientID *int64
	Status    *model.Status
	DateFrom  *time.Time
	DateTo    *time.Time
}

func (f Filter) query() string {
	q := url.Values{}
	if f.PatientID != nil {
		q.Set("patient_id", strconv.FormatInt(*f.PatientID, 10))
	}
	if f.Status != nil {
		q.Set("status", string(*f.Status))
	}
	if f.DateFrom != nil {
		q.Set("date_from", f.DateFrom.UTC().Format(time.RFC3339))
	}
	if f.DateTo != nil {
		q.Set("date_to", f.DateTo.UTC().Format(time.RFC3339))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) ListMessages(ctx context.Context, f Filter) ([]model.Message, error) {
	var ms []model.Message
	err := c.do(ctx, http.MethodGet, "/messages/"+f.query(), nil, &ms)
	return ms, err
}

func (c *Client) ListPatients(ctx context.Context) ([]model.Patient, error) {
	var ps []model.Patient
	err := c.do(ctx, http.MethodGet, "/patients", nil, &ps)
	return ps, err
}

func (c *Client) GetPatient(ctx context.Context, id int64) (model.Patient, error) {
	var p model.Patient
	err := c.do(ctx, http.MethodGet, "/patients/"+strconv.FormatInt(id, 10), nil, &p)
	return p, err
}

type PatientRequest struct {
	FullName       string     `json:"full_name"`
	Phone          string     `json:"phone,omitempty"`
	NextSessionAt  *time.Time `json:"next_session_at,omitempty"`
	AllowAIContact *bool      `json:"allow_ai_contact,omitempty"`
}

func (c *Client) CreatePatient(ctx context.Context, req PatientRequest) (model.Patient, error) {
	var p model.Patient
	err := c.do(ctx, http.MethodPost, "/patients", req, &p)
	return p, err
}
