package generator

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/therapycompanion/reminders/internal/config"
)

const systemPrompt = "You help a therapist write brief WhatsApp messages to their patients. " +
	"Reply with the message text only, no greeting line for the therapist and no quotes."

type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewOpenAI(cfg config.AIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Kind: KindConfig, Op: "config", Message: "OPENAI_API_KEY is not set"}
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (g *OpenAI) Generate(ctx context.Context, p Prompt) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(p)},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		kind := KindProvider
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			kind = KindRateLimit
		}
		return "", &Error{Kind: kind, Op: "completion", Message: "failed to create completion", Cause: err}
	}

	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindEmpty, Op: "completion", Message: "empty completion response"}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &Error{Kind: KindEmpty, Op: "completion", Message: "empty completion response"}
	}
	return content, nil
}

// New returns the language model generator when an API key is configured,
// otherwise the template generator.
func New(cfg config.AIConfig) Generator {
	g, err := NewOpenAI(cfg)
	if err != nil {
		return Template{}
	}
	return g
}
