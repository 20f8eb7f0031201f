package api

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
)

const webhookSecretHeader = "X-Webhook-Secret"

type deliveryReceipt struct {
	ProviderMessageID string `json:"provider_message_id"`
	Status            string `json:"status"`
}

// DeliveryReceipt is called by the WhatsApp provider, not by a therapist.
// It authenticates with a shared secret instead of a bearer token.
func (h *Handler) DeliveryReceipt(w http.ResponseWriter, r *http.Request) {
	if h.receiptSecret == "" {
		writeDetail(w, http.StatusNotFound, "Delivery webhook is not configured")
		return
	}
	got := r.Header.Get(webhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.receiptSecret)) != 1 {
		writeDetail(w, http.StatusUnauthorized, "Invalid webhook secret")
		return
	}

	// Providers add fields of their own, so unknown keys are allowed here.
	var req deliveryReceipt
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, badRequest{"malformed JSON body"})
		return
	}
	if err := h.msgs.RecordDelivery(r.Context(), req.ProviderMessageID, req.Status); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
