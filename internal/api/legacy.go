package api

import (
	"net/http"

	"github.com/therapycompanion/reminders/internal/model"
	"github.com/therapycompanion/reminders/internal/service"
)

// Endpoints of the draft/approve workflow. Their bodies carry the message id
// instead of the path.

type createDraftRequest struct {
	PatientID   int64             `json:"patient_id"`
	MessageType string            `json:"message_type"`
	Context     map[string]string `json:"context"`
}

func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.msgs.CreateDraft(r.Context(), therapistID(r), service.GenerateInput{
		PatientID:   req.PatientID,
		MessageType: model.MessageType(req.MessageType),
		Context:     req.Context,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, m)
}

type messageIDRequest struct {
	MessageID int64   `json:"message_id"`
	Reason    *string `json:"reason,omitempty"`
}

type actionResponse struct {
	Message   string       `json:"message"`
	MessageID int64        `json:"message_id"`
	Status    model.Status `json:"status"`
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req messageIDRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.msgs.Approve(r.Context(), therapistID(r), req.MessageID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{"Message approved successfully", m.ID, m.Status})
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req messageIDRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	reason := ""
	if req.Reason != nil {
		reason = *req.Reason
	}
	m, err := h.msgs.Reject(r.Context(), therapistID(r), req.MessageID, reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{"Message rejected", m.ID, m.Status})
}

type editDraftRequest struct {
	MessageID  int64  `json:"message_id"`
	NewContent string `json:"new_content"`
}

func (h *Handler) EditDraft(w http.ResponseWriter, r *http.Request) {
	var req editDraftRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.msgs.EditDraft(r.Context(), therapistID(r), req.MessageID, req.NewContent)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, m)
}

func (h *Handler) SendApproved(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.msgs.SendApproved(r.Context(), therapistID(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, m)
}

func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	items, err := h.msgs.Pending(r.Context(), therapistID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
