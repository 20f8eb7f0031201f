package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/therapycompanion/reminders/internal/generator"
	"github.com/therapycompanion/reminders/internal/service"
)

// badRequest marks input that could not be parsed at all.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeDetail(w, status, detail)
}

func classify(err error) (int, string) {
	var br badRequest
	if errors.As(err, &br) {
		return http.StatusBadRequest, br.msg
	}

	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, err.Error()
	}

	var gerr *generator.Error
	if errors.As(err, &gerr) {
		if gerr.Kind == generator.KindRateLimit {
			return http.StatusTooManyRequests, "Content generation is rate limited, try again shortly"
		}
		return http.StatusBadGateway, "Content generation failed: " + gerr.Message
	}

	return http.StatusInternalServerError, "Internal server error"
}
