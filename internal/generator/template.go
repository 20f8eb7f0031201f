package generator

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/therapycompanion/reminders/internal/model"
)

var sessionReminderTmpl = template.Must(template.New("session_reminder").Parse(
	`Hi {{.PatientName}}, this is a reminder of your session with {{.TherapistName}}` +
		`{{with .Date}} on {{.}}{{end}}{{with .Time}} at {{.}}{{end}}.`))

// SessionReminder renders the fixed text of a session reminder. The session
// time is shown in loc.
func SessionReminder(patientName, therapistName string, sessionAt *time.Time, loc *time.Location) (string, error) {
	data := struct {
		PatientName, TherapistName, Date, Time string
	}{
		PatientName:   patientName,
		TherapistName: therapistName,
	}
	if data.TherapistName == "" {
		data.TherapistName = "your therapist"
	}
	if sessionAt != nil {
		if loc == nil {
			loc = time.UTC
		}
		t := sessionAt.In(loc)
		data.Date = t.Format("02/01/2006")
		data.Time = t.Format("15:04")
	}

	var buf bytes.Buffer
	if err := sessionReminderTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render session reminder: %w", err)
	}
	return buf.String(), nil
}

// Template produces deterministic text without a language model. It is used
// when no API key is configured.
type Template struct{}

func (Template) Generate(_ context.Context, p Prompt) (string, error) {
	name := p.PatientName
	if name == "" {
		name = "there"
	}

	switch p.MessageType {
	case model.SessionReminder:
		return SessionReminder(p.PatientName, p.TherapistName, p.NextSessionAt, time.UTC)
	case model.TaskReminder:
		if task := p.Context["task"]; task != "" {
			return fmt.Sprintf("Hi %s, a reminder to work on: %s.", name, task), nil
		}
		return fmt.Sprintf("Hi %s, a reminder about the task we agreed on.", name), nil
	case model.FollowUp:
		return fmt.Sprintf("Hi %s, how did the homework from our last session go?", name), nil
	case model.ExerciseReminder:
		return fmt.Sprintf("Hi %s, don't forget to complete your exercise. You are doing great.", name), nil
	case model.CheckIn:
		return fmt.Sprintf("Hi %s, just checking in. How are you feeling this week?", name), nil
	}

	if len(p.Context) > 0 {
		vals := make([]string, 0, len(p.Context))
		for _, v := range p.Context {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		return fmt.Sprintf("Hi %s, %s", name, strings.Join(vals, " ")), nil
	}
	return "", &Error{Kind: KindEmpty, Op: "template", Message: fmt.Sprintf("no template for %q", p.MessageType)}
}
