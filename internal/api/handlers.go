// Package api serves the therapist REST surface under /api/v1.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/therapycompanion/reminders/internal/auth"
	"github.com/therapycompanion/reminders/internal/metrics"
	"github.com/therapycompanion/reminders/internal/scheduler"
	"github.com/therapycompanion/reminders/internal/service"
)

type Deps struct {
	Messages   *service.MessageService
	Accounts   *service.AccountService
	Dispatcher *scheduler.Dispatcher
	Issuer     *auth.Issuer
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	// Ping checks the database for /health. Nil means always healthy.
	Ping func(context.Context) error
	// ReceiptSecret guards the delivery webhook. Empty disables it.
	ReceiptSecret string
}

type Handler struct {
	msgs          *service.MessageService
	accounts      *service.AccountService
	dispatcher    *scheduler.Dispatcher
	issuer        *auth.Issuer
	metrics       *metrics.Metrics
	log           zerolog.Logger
	ping          func(context.Context) error
	receiptSecret string
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		msgs:          d.Messages,
		accounts:      d.Accounts,
		dispatcher:    d.Dispatcher,
		issuer:        d.Issuer,
		metrics:       d.Metrics,
		log:           d.Logger,
		ping:          d.Ping,
		receiptSecret: d.ReceiptSecret,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.log.Error().Err(err).Msg("health check: database unreachable")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "database": "unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.Start()
	writeJSON(w, http.StatusOK, h.dispatcher.Status())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.Stop()
	writeJSON(w, http.StatusOK, h.dispatcher.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
