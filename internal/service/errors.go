package service

import (
	"errors"
	"fmt"

	"github.com/therapycompanion/reminders/internal/repo"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error carries a message meant for the therapist alongside one of the
// sentinel kinds above.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

func invalid(format string, args ...any) error {
	return &Error{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) error {
	return &Error{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}

func notFound(what string) error {
	return &Error{kind: ErrNotFound, msg: what + " not found"}
}

// fromRepo maps storage sentinels onto service errors.
func fromRepo(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return notFound(what)
	case errors.Is(err, repo.ErrConflict):
		return conflict("%s was modified concurrently, reload and try again", what)
	}
	return err
}
