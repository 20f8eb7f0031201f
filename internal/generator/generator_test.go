package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therapycompanion/reminders/internal/config"
	"github.com/therapycompanion/reminders/internal/model"
)

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt(Prompt{
		PatientName:   "Dana",
		TherapistName: "Dr. Levi",
		MessageType:   model.TaskReminder,
		Context:       map[string]string{"task": "breathing exercise", "days": "3"},
	})

	assert.True(t, strings.HasPrefix(got, "Write a short reminder for Dana"))
	assert.Contains(t, got, "- days: 3\n- task: breathing exercise")
	assert.Contains(t, got, "speak as the therapist (Dr. Levi)")
}

func TestSessionReminder(t *testing.T) {
	at := time.Date(2026, 5, 4, 14, 30, 0, 0, time.UTC)

	got, err := SessionReminder("Dana", "Dr. Levi", &at, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Hi Dana, this is a reminder of your session with Dr. Levi on 04/05/2026 at 14:30.", got)

	got, err = SessionReminder("Dana", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi Dana, this is a reminder of your session with your therapist.", got)
}

func TestTemplate_Generate(t *testing.T) {
	ctx := context.Background()

	got, err := Template{}.Generate(ctx, Prompt{
		PatientName: "Dana",
		MessageType: model.TaskReminder,
		Context:     map[string]string{"task": "breathing exercise"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Dana, a reminder to work on: breathing exercise.", got)

	for _, mt := range model.MessageTypes() {
		got, err := Template{}.Generate(ctx, Prompt{PatientName: "Dana", MessageType: mt})
		require.NoError(t, err, mt)
		assert.NotEmpty(t, got, mt)
	}

	_, err = Template{}.Generate(ctx, Prompt{MessageType: "unknown"})
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindEmpty, gerr.Kind)
}

func newCompletionServer(t *testing.T, status int, body string, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Generate(t *testing.T) {
	var seen openai.ChatCompletionRequest
	srv := newCompletionServer(t, http.StatusOK, `{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "  Take five minutes to breathe today.  "}, "finish_reason": "stop"}]
	}`, &seen)

	g, err := NewOpenAI(config.AIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini", MaxTokens: 100})
	require.NoError(t, err)

	got, err := g.Generate(context.Background(), Prompt{PatientName: "Dana", MessageType: model.CheckIn})
	require.NoError(t, err)
	assert.Equal(t, "Take five minutes to breathe today.", got)

	assert.Equal(t, "gpt-4o-mini", seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, seen.Messages[0].Role)
	assert.Contains(t, seen.Messages[1].Content, "check-in message for Dana")
}

func TestOpenAI_Generate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests"}}`, KindRateLimit},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, KindProvider},
		{"no choices", http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`, KindEmpty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newCompletionServer(t, tc.status, tc.body, nil)
			g, err := NewOpenAI(config.AIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m"})
			require.NoError(t, err)

			_, err = g.Generate(context.Background(), Prompt{PatientName: "Dana", MessageType: model.FollowUp})
			var gerr *Error
			require.True(t, errors.As(err, &gerr), "got %v", err)
			assert.Equal(t, tc.kind, gerr.Kind)
		})
	}
}

func TestNew_FallsBackToTemplate(t *testing.T) {
	_, isTemplate := New(config.AIConfig{}).(Template)
	assert.True(t, isTemplate)

	_, isOpenAI := New(config.AIConfig{APIKey: "k", Model: "m"}).(*OpenAI)
	assert.True(t, isOpenAI)

	_, err := NewOpenAI(config.AIConfig{})
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindConfig, gerr.Kind)
}
