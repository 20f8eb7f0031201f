package api

import (
	"net/http"
	"strconv"

	"github.com/therapycompanion/reminders/internal/auth"
	"github.com/therapycompanion/reminders/internal/model"
	"github.com/therapycompanion/reminders/internal/service"
)

func therapistID(r *http.Request) int64 {
	id, _ := auth.TherapistID(r.Context())
	return id
}

// writeMessage also sets the ETag so clients can send it back in If-Match.
func writeMessage(w http.ResponseWriter, status int, m model.Message) {
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(m.Version)))
	writeJSON(w, status, m)
}

type generateRequest struct {
	PatientID   int64             `json:"patient_id"`
	MessageType string            `json:"message_type"`
	Context     map[string]string `json:"context"`
}

func (h *Handler) GenerateContent(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.msgs.Generate(r.Context(), therapistID(r), service.GenerateInput{
		PatientID:   req.PatientID,
		MessageType: model.MessageType(req.MessageType),
		Context:     req.Context,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type composeRequest struct {
	PatientID        int64   `json:"patient_id"`
	MessageType      string  `json:"message_type"`
	Content          string  `json:"content"`
	RecipientPhone   *string `json:"recipient_phone"`
	SendAt           *string `json:"send_at"`
	RelatedSessionID *int64  `json:"related_session_id"`
}

func (h *Handler) Compose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sendAt, err := optionalTime("send_at", req.SendAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.msgs.Compose(r.Context(), therapistID(r), service.ComposeInput{
		PatientID:        req.PatientID,
		MessageType:      model.MessageType(req.MessageType),
		Content:          req.Content,
		RecipientPhone:   req.RecipientPhone,
		SendAt:           sendAt,
		RelatedSessionID: req.RelatedSessionID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusCreated, m)
}

type sendOrScheduleRequest struct {
	Content        string  `json:"content"`
	RecipientPhone *string `json:"recipient_phone"`
	SendAt         *string `json:"send_at"`
}

func (h *Handler) SendOrSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req sendOrScheduleRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sendAt, err := optionalTime("send_at", req.SendAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.msgs.SendOrSchedule(r.Context(), therapistID(r), id, service.SendOrScheduleInput{
		Content:        req.Content,
		RecipientPhone: req.RecipientPhone,
		SendAt:         sendAt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, m)
}

type cancelRequest struct {
	ExpectedVersion *int `json:"expected_version"`
}

// Cancel takes no body. An optional expected_version may come in a body or
// in If-Match.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req cancelRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	expected, err := ifMatch(r, req.ExpectedVersion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.msgs.Cancel(r.Context(), therapistID(r), id, expected)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, m)
}

type updateRequest struct {
	Content         *string `json:"content"`
	RecipientPhone  *string `json:"recipient_phone"`
	SendAt          *string `json:"send_at"`
	ExpectedVersion *int    `json:"expected_version"`
}

func (h *Handler) UpdateScheduled(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req updateRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sendAt, err := optionalTime("send_at", req.SendAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	expected, err := ifMatch(r, req.ExpectedVersion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	m, err := h.msgs.EditScheduled(r.Context(), therapistID(r), id, service.EditInput{
		Content:         req.Content,
		RecipientPhone:  req.RecipientPhone,
		SendAt:          sendAt,
		ExpectedVersion: expected,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, m)
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.msgs.Get(r.Context(), therapistID(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, m)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.msgs.List(r.Context(), therapistID(r), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) ListPatientMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.msgs.ListForPatient(r.Context(), therapistID(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
