package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therapycompanion/reminders/internal/apitest"
	"github.com/therapycompanion/reminders/internal/model"
)

type response struct {
	*http.Response
	body []byte
}

func (r response) detail(t *testing.T) string {
	t.Helper()
	var d struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(r.body, &d), "body=%s", r.body)
	return d.Detail
}

func (r response) message(t *testing.T) model.Message {
	t.Helper()
	var m model.Message
	require.NoError(t, json.Unmarshal(r.body, &m), "body=%s", r.body)
	return m
}

func (r response) messages(t *testing.T) []model.Message {
	t.Helper()
	var ms []model.Message
	require.NoError(t, json.Unmarshal(r.body, &ms), "body=%s", r.body)
	return ms
}

func call(t *testing.T, env *apitest.Env, method, path string, body any, headers ...string) response {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, env.URL+path, rdr)
	require.NoError(t, err)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+env.Token)
	for i := 0; i+1 < len(headers); i += 2 {
		if headers[i+1] == "" {
			req.Header.Del(headers[i])
			continue
		}
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{Response: resp, body: raw}
}

func compose(t *testing.T, env *apitest.Env, body map[string]any) model.Message {
	t.Helper()
	if _, ok := body["patient_id"]; !ok {
		body["patient_id"] = env.Patient.ID
	}
	if _, ok := body["message_type"]; !ok {
		body["message_type"] = "task_reminder"
	}
	resp := call(t, env, http.MethodPost, "/api/v1/messages/compose", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body=%s", resp.body)
	return resp.message(t)
}

func inAnHour() string {
	return time.Now().UTC().Add(time.Hour).Truncate(time.Second).Format(time.RFC3339)
}

func TestHealth(t *testing.T) {
	env := apitest.New(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		resp := call(t, env, http.MethodGet, path, nil, "Authorization", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.JSONEq(t, `{"ok":true}`, string(resp.body))
	}
}

func TestAuthRequired(t *testing.T) {
	env := apitest.New(t)

	resp := call(t, env, http.MethodGet, "/api/v1/messages/", nil, "Authorization", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Not authenticated", resp.detail(t))
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))

	resp = call(t, env, http.MethodGet, "/api/v1/messages/", nil, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Could not validate credentials", resp.detail(t))
}

func TestRegisterAndLogin(t *testing.T) {
	env := apitest.New(t)

	resp := call(t, env, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"email": "yael@clinic.test", "password": "long enough", "full_name": "Yael Bar",
	}, "Authorization", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body=%s", resp.body)

	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		FullName    string `json:"full_name"`
	}
	require.NoError(t, json.Unmarshal(resp.body, &tok))
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, "Yael Bar", tok.FullName)

	resp = call(t, env, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"email": "yael@clinic.test", "password": "long enough", "full_name": "Yael Bar",
	}, "Authorization", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "email already registered", resp.detail(t))

	resp = call(t, env, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email": apitest.Email, "password": apitest.Password,
	}, "Authorization", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", resp.body)

	form := url.Values{"username": {apitest.Email}, "password": {apitest.Password}}
	formResp, err := http.Post(env.URL+"/api/v1/auth/login", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	formResp.Body.Close()
	assert.Equal(t, http.StatusOK, formResp.StatusCode)

	resp = call(t, env, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email": apitest.Email, "password": "wrong",
	}, "Authorization", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Incorrect email or password", resp.detail(t))

	resp = call(t, env, http.MethodPost, "/api/v1/auth/refresh", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCompose_WithoutSendAtIsSentNow(t *testing.T) {
	env := apitest.New(t)

	m := compose(t, env, map[string]any{"content": "Drink water", "send_at": nil})

	assert.Equal(t, model.Sent, m.Status)
	assert.Nil(t, m.ScheduledSendAt)
	require.Len(t, env.WhatsApp.Sent(), 1)
	assert.Equal(t, apitest.PatientPhone, env.WhatsApp.Sent()[0].Phone)
}

func TestCompose_FutureSendAtIsScheduled(t *testing.T) {
	env := apitest.New(t)
	at := inAnHour()

	resp := call(t, env, http.MethodPost, "/api/v1/messages/compose", map[string]any{
		"patient_id": env.Patient.ID, "message_type": "check_in", "content": "How are you?", "send_at": at,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	m := resp.message(t)

	assert.Equal(t, model.Scheduled, m.Status)
	require.NotNil(t, m.ScheduledSendAt)
	want, _ := time.Parse(time.RFC3339, at)
	assert.True(t, want.Equal(*m.ScheduledSendAt), "want %s got %s", want, m.ScheduledSendAt)
	assert.Equal(t, `"1"`, resp.Header.Get("ETag"))
	assert.Empty(t, env.WhatsApp.Sent())
}

func TestCompose_NaiveTimestampIsUTC(t *testing.T) {
	env := apitest.New(t)
	at := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)

	m := compose(t, env, map[string]any{"content": "x", "send_at": at.Format("2006-01-02T15:04:05")})
	require.NotNil(t, m.ScheduledSendAt)
	assert.True(t, at.Equal(*m.ScheduledSendAt))
}

func TestCompose_Errors(t *testing.T) {
	env := apitest.New(t)

	cases := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed json", `{"patient_id":`, http.StatusBadRequest},
		{"unknown field", map[string]any{"patient_id": env.Patient.ID, "message_type": "task_reminder", "content": "x", "colour": "red"}, http.StatusBadRequest},
		{"bad timestamp", map[string]any{"patient_id": env.Patient.ID, "message_type": "task_reminder", "content": "x", "send_at": "tomorrow"}, http.StatusBadRequest},
		{"empty content", map[string]any{"patient_id": env.Patient.ID, "message_type": "task_reminder", "content": " "}, http.StatusUnprocessableEntity},
		{"unknown type", map[string]any{"patient_id": env.Patient.ID, "message_type": "birthday", "content": "x"}, http.StatusUnprocessableEntity},
		{"unknown patient", map[string]any{"patient_id": 999, "message_type": "task_reminder", "content": "x"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := call(t, env, http.MethodPost, "/api/v1/messages/compose", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode, "body=%s", resp.body)
			assert.NotEmpty(t, resp.detail(t))
		})
	}
	assert.Empty(t, env.WhatsApp.Sent())
}

func TestScenario_GenerateEditCompose(t *testing.T) {
	env := apitest.New(t)

	resp := call(t, env, http.MethodPost, "/api/v1/messages/generate", map[string]any{
		"patient_id": env.Patient.ID, "message_type": "task_reminder", "context": map[string]string{"task": "breathing exercise"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", resp.body)
	var gen struct {
		Content     string `json:"content"`
		MessageType string `json:"message_type"`
	}
	require.NoError(t, json.Unmarshal(resp.body, &gen))
	assert.NotEmpty(t, gen.Content)
	assert.Equal(t, "task_reminder", gen.MessageType)

	m := compose(t, env, map[string]any{
		"message_type": "task_reminder",
		"content":      "Please practice breathing for 5 minutes",
		"send_at":      nil,
	})
	assert.Equal(t, "Please practice breathing for 5 minutes", m.Content)
	assert.NotEqual(t, model.Scheduled, m.Status)
}

func TestScenario_CancelScheduled(t *testing.T) {
	env := apitest.New(t)

	m := compose(t, env, map[string]any{"content": "See you Thursday", "send_at": inAnHour()})

	resp := call(t, env, http.MethodPost, "/api/v1/messages/"+itoa(m.ID)+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", resp.body)
	assert.Equal(t, model.Cancelled, resp.message(t).Status)

	resp = call(t, env, http.MethodGet, "/api/v1/messages/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := resp.messages(t)
	require.Len(t, list, 1)
	assert.Equal(t, model.Cancelled, list[0].Status)
	assert.Equal(t, "See you Thursday", list[0].Content)

	resp = call(t, env, http.MethodPost, "/api/v1/messages/"+itoa(m.ID)+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUpdateScheduled(t *testing.T) {
	env := apitest.New(t)
	m := compose(t, env, map[string]any{"content": "v1", "send_at": inAnHour()})
	path := "/api/v1/messages/" + itoa(m.ID)

	resp := call(t, env, http.MethodPatch, path, map[string]any{"content": "v2"}, "If-Match", `"7"`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = call(t, env, http.MethodPatch, path, map[string]any{"content": "v2"}, "If-Match", `"1"`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", resp.body)
	assert.Equal(t, "v2", resp.message(t).Content)
	assert.Equal(t, `"2"`, resp.Header.Get("ETag"))

	resp = call(t, env, http.MethodPatch, path, map[string]any{"content": "v3", "expected_version": 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	resp = call(t, env, http.MethodPatch, path, map[string]any{"send_at": past})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = call(t, env, http.MethodPatch, path, map[string]any{"recipient_phone": "054 222 3333"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "+972542223333", resp.message(t).RecipientPhone)

	resp = call(t, env, http.MethodPatch, path, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	sent := compose(t, env, map[string]any{"content": "now"})
	resp = call(t, env, http.MethodPatch, "/api/v1/messages/"+itoa(sent.ID), map[string]any{"content": "late"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListFilters(t *testing.T) {
	env := apitest.New(t)
	compose(t, env, map[string]any{"content": "now"})
	scheduled := compose(t, env, map[string]any{"content": "later", "send_at": inAnHour()})

	resp := call(t, env, http.MethodGet, "/api/v1/messages/?status=scheduled", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := resp.messages(t)
	require.Len(t, list, 1)
	assert.Equal(t, scheduled.ID, list[0].ID)

	resp = call(t, env, http.MethodGet, "/api/v1/messages?status=sent,scheduled&patient_id="+itoa(env.Patient.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.messages(t), 2)

	resp = call(t, env, http.MethodGet, "/api/v1/messages/patient/"+itoa(env.Patient.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.messages(t), 2)

	resp = call(t, env, http.MethodGet, "/api/v1/messages/?patient_id=999", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", strings.TrimSpace(string(resp.body)))

	resp = call(t, env, http.MethodGet, "/api/v1/messages/?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = call(t, env, http.MethodGet, "/api/v1/messages/?date_from=2025-02-01&date_to=2025-01-01", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = call(t, env, http.MethodGet, "/api/v1/messages/patient/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = call(t, env, http.MethodGet, "/api/v1/messages/"+itoa(scheduled.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, scheduled.ID, resp.message(t).ID)

	resp = call(t, env, http.MethodGet, "/api/v1/messages/424242", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "message not found", resp.detail(t))
}

func TestLegacyDraftFlow(t *testing.T) {
	env := apitest.New(t)

	resp := call(t, env, http.MethodPost, "/api/v1/messages/create", map[string]any{
		"patient_id": env.Patient.ID, "message_type": "follow_up",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", resp.body)
	draft := resp.message(t)
	assert.Equal(t, model.Draft, draft.Status)

	resp = call(t, env, http.MethodGet, "/api/v1/messages/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.messages(t), 1)

	resp = call(t, env, http.MethodPost, "/api/v1/messages/edit", map[string]any{
		"message_id": draft.ID, "new_content": "How did the homework go?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", resp.body)

	resp = call(t, env, http.MethodPost, "/api/v1/messages/approve", map[string]any{"message_id": draft.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Message approved successfully","message_id":`+itoa(draft.ID)+`,"status":"approved"}`, string(resp.body))

	resp = call(t, env, http.MethodPost, "/api/v1/messages/send/"+itoa(draft.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", resp.body)
	assert.Equal(t, model.Sent, resp.message(t).Status)
	assert.Equal(t, "How did the homework go?", env.WhatsApp.Sent()[0].Body)

	resp = call(t, env, http.MethodPost, "/api/v1/messages/create", map[string]any{
		"patient_id": env.Patient.ID, "message_type": "check_in",
	})
	other := resp.message(t)
	resp = call(t, env, http.MethodPost, "/api/v1/messages/reject", map[string]any{"message_id": other.ID, "reason": "not now"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = call(t, env, http.MethodPost, "/api/v1/messages/"+itoa(other.ID)+"/send-or-schedule", map[string]any{"content": "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSendOrSchedule(t *testing.T) {
	env := apitest.New(t)

	resp := call(t, env, http.MethodPost, "/api/v1/messages/create", map[string]any{
		"patient_id": env.Patient.ID, "message_type": "exercise_reminder",
	})
	draft := resp.message(t)

	at := inAnHour()
	resp = call(t, env, http.MethodPost, "/api/v1/messages/"+itoa(draft.ID)+"/send-or-schedule", map[string]any{
		"content": "Exercise time", "recipient_phone": nil, "send_at": at,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", resp.body)
	m := resp.message(t)
	assert.Equal(t, model.Scheduled, m.Status)
	assert.Equal(t, "Exercise time", m.Content)
}

func TestDeliveryWebhook(t *testing.T) {
	env := apitest.New(t)
	m := compose(t, env, map[string]any{"content": "now"})
	require.NotNil(t, m.ProviderMessageID)

	body := map[string]any{"provider_message_id": *m.ProviderMessageID, "status": "delivered", "timestamp": 1700000000}

	resp := call(t, env, http.MethodPost, "/api/v1/webhooks/delivery", body, "Authorization", "", "X-Webhook-Secret", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = call(t, env, http.MethodPost, "/api/v1/webhooks/delivery", body, "Authorization", "", "X-Webhook-Secret", apitest.ReceiptSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", resp.body)

	resp = call(t, env, http.MethodGet, "/api/v1/messages/"+itoa(m.ID), nil)
	assert.Equal(t, model.Delivered, resp.message(t).Status)
}

func TestPatients(t *testing.T) {
	env := apitest.New(t)

	resp := call(t, env, http.MethodPost, "/api/v1/patients", map[string]any{
		"full_name": "Yael", "phone": "0541234567", "allow_ai_contact": false,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body=%s", resp.body)
	var p model.Patient
	require.NoError(t, json.Unmarshal(resp.body, &p))
	assert.Equal(t, "+972541234567", p.Phone)
	assert.False(t, p.AllowAIContact)

	resp = call(t, env, http.MethodGet, "/api/v1/patients", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ps []model.Patient
	require.NoError(t, json.Unmarshal(resp.body, &ps))
	assert.Len(t, ps, 2)

	resp = call(t, env, http.MethodGet, "/api/v1/patients/"+itoa(p.ID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = call(t, env, http.MethodPost, "/api/v1/messages/compose", map[string]any{
		"patient_id": p.ID, "message_type": "check_in", "content": "hi",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSchedulerEndpoints(t *testing.T) {
	env := apitest.New(t)

	resp := call(t, env, http.MethodGet, "/api/v1/scheduler/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st struct {
		Running bool `json:"running"`
	}
	require.NoError(t, json.Unmarshal(resp.body, &st))
	assert.False(t, st.Running)

	resp = call(t, env, http.MethodPost, "/api/v1/scheduler/start", nil)
	require.NoError(t, json.Unmarshal(resp.body, &st))
	assert.True(t, st.Running)

	resp = call(t, env, http.MethodPost, "/api/v1/scheduler/stop", nil)
	require.NoError(t, json.Unmarshal(resp.body, &st))
	assert.False(t, st.Running)
}

func TestDispatcherSendsDueMessages(t *testing.T) {
	env := apitest.New(t)
	m := compose(t, env, map[string]any{"content": "later", "send_at": inAnHour()})

	env.Clock.Advance(2 * time.Hour)
	resp := call(t, env, http.MethodPost, "/api/v1/scheduler/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return len(env.WhatsApp.Sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	env.Dispatcher.Stop()

	resp = call(t, env, http.MethodGet, "/api/v1/messages/"+itoa(m.ID), nil)
	assert.Equal(t, model.Sent, resp.message(t).Status)
}

func TestMetricsAndNotFound(t *testing.T) {
	env := apitest.New(t)
	call(t, env, http.MethodGet, "/api/v1/messages/", nil)

	resp := call(t, env, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.body), `reminders_http_requests_total{code="200",method="GET",route="/api/v1/messages/"}`)

	resp = call(t, env, http.MethodGet, "/api/v1/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not Found", resp.detail(t))
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
