// Package generator produces message text. It never stores anything.
package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/therapycompanion/reminders/internal/model"
)

type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

type Prompt struct {
	PatientName   string
	TherapistName string
	MessageType   model.MessageType
	NextSessionAt *time.Time
	Context       map[string]string
}

type Kind string

const (
	KindConfig    Kind = "config"
	KindProvider  Kind = "provider"
	KindRateLimit Kind = "rate_limit"
	KindEmpty     Kind = "empty"
)

// Error is returned by every Generator implementation in this package.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generator %s error in %s: %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("generator %s error in %s: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

var instructions = map[model.MessageType]string{
	model.TaskReminder:     "Write a short reminder for %s about the task agreed in therapy.",
	model.FollowUp:         "Write a short follow-up message for %s. Ask how the homework from the last session went. Two or three sentences.",
	model.ExerciseReminder: "Write a friendly reminder for %s to complete the assigned exercise. Short and encouraging.",
	model.CheckIn:          "Write a general check-in message for %s. Ask how they are feeling and what is new. Short and warm.",
	model.SessionReminder:  "Write a reminder to %s about the next session.",
}

// BuildPrompt renders the user prompt sent to the language model.
func BuildPrompt(p Prompt) string {
	format, ok := instructions[p.MessageType]
	if !ok {
		format = "Write a message for %s."
	}

	var b strings.Builder
	fmt.Fprintf(&b, format, p.PatientName)

	if len(p.Context) > 0 {
		keys := make([]string, 0, len(p.Context))
		for k := range p.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\n\nAdditional context:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, p.Context[k])
		}
	}

	b.WriteString("\n\nImportant: speak as the therapist")
	if p.TherapistName != "" {
		fmt.Fprintf(&b, " (%s)", p.TherapistName)
	}
	b.WriteString(", not as an assistant.")
	return b.String()
}
