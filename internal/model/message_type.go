package model

import "fmt"

type MessageType string

const (
	TaskReminder     MessageType = "task_reminder"
	SessionReminder  MessageType = "session_reminder"
	FollowUp         MessageType = "follow_up"
	ExerciseReminder MessageType = "exercise_reminder"
	CheckIn          MessageType = "check_in"
)

// TypePolicy describes how content of a message type is produced and who may
// change it.
type TypePolicy struct {
	// EditableContent is true when the therapist may write or change the text.
	EditableContent bool
	// Templated content is rendered by the server and never taken from the client.
	Templated bool
	// Generated content comes from the language model.
	Generated bool
}

var policies = map[MessageType]TypePolicy{
	TaskReminder:     {EditableContent: true},
	SessionReminder:  {Templated: true},
	FollowUp:         {EditableContent: true, Generated: true},
	ExerciseReminder: {EditableContent: true, Generated: true},
	CheckIn:          {EditableContent: true, Generated: true},
}

func ParseMessageType(s string) (MessageType, error) {
	t := MessageType(s)
	if _, ok := policies[t]; !ok {
		return "", fmt.Errorf("unknown message type %q", s)
	}
	return t, nil
}

// Policy returns the policy for t. Unknown types get the most restrictive
// policy.
func (t MessageType) Policy() TypePolicy {
	return policies[t]
}

func (t MessageType) Valid() bool {
	_, ok := policies[t]
	return ok
}

func MessageTypes() []MessageType {
	return []MessageType{TaskReminder, SessionReminder, FollowUp, ExerciseReminder, CheckIn}
}
