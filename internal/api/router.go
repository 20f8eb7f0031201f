package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/therapycompanion/reminders/internal/auth"
)

const prefix = "/api/v1"

func Router(h *Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger(h.log))
	r.Use(recoverPanic)
	r.Use(h.instrument)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	public := r.PathPrefix(prefix).Subrouter()
	public.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	public.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	public.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	public.HandleFunc("/webhooks/delivery", h.DeliveryReceipt).Methods(http.MethodPost)

	api := r.PathPrefix(prefix).Subrouter()
	api.Use(auth.Middleware(h.issuer))

	api.HandleFunc("/auth/refresh", h.Refresh).Methods(http.MethodPost)

	api.HandleFunc("/patients", h.ListPatients).Methods(http.MethodGet)
	api.HandleFunc("/patients", h.CreatePatient).Methods(http.MethodPost)
	api.HandleFunc("/patients/{id:[0-9]+}", h.GetPatient).Methods(http.MethodGet)

	api.HandleFunc("/messages/generate", h.GenerateContent).Methods(http.MethodPost)
	api.HandleFunc("/messages/compose", h.Compose).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id:[0-9]+}/send-or-schedule", h.SendOrSchedule).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id:[0-9]+}/cancel", h.Cancel).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id:[0-9]+}", h.UpdateScheduled).Methods(http.MethodPatch)
	api.HandleFunc("/messages/{id:[0-9]+}", h.GetMessage).Methods(http.MethodGet)
	api.HandleFunc("/messages/patient/{id:[0-9]+}", h.ListPatientMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages/", h.ListMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages", h.ListMessages).Methods(http.MethodGet)

	api.HandleFunc("/messages/create", h.CreateDraft).Methods(http.MethodPost)
	api.HandleFunc("/messages/approve", h.Approve).Methods(http.MethodPost)
	api.HandleFunc("/messages/reject", h.Reject).Methods(http.MethodPost)
	api.HandleFunc("/messages/edit", h.EditDraft).Methods(http.MethodPost)
	api.HandleFunc("/messages/send/{id:[0-9]+}", h.SendApproved).Methods(http.MethodPost)
	api.HandleFunc("/messages/pending", h.Pending).Methods(http.MethodGet)

	api.HandleFunc("/scheduler/status", h.SchedulerStatus).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/start", h.SchedulerStart).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/stop", h.SchedulerStop).Methods(http.MethodPost)

	return r
}
