package api

import (
	"mime"
	"net/http"

	"github.com/therapycompanion/reminders/internal/service"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	TherapistID int64  `json:"therapist_id"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
}

func grantResponse(g service.Grant) tokenResponse {
	return tokenResponse{
		AccessToken: g.Token.AccessToken,
		TokenType:   g.Token.TokenType,
		TherapistID: g.Therapist.ID,
		FullName:    g.Therapist.FullName,
		Email:       g.Therapist.Email,
	}
}

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName string  `json:"full_name"`
	Phone    *string `json:"phone"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	g, err := h.accounts.RegisterAndLogin(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, grantResponse(g))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login accepts a JSON body or an OAuth2 password form with username and
// password fields.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			h.writeError(w, r, badRequest{"malformed form body"})
			return
		}
		req.Email = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	} else if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	g, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantResponse(g))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	g, err := h.accounts.Refresh(r.Context(), therapistID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantResponse(g))
}

type patientRequest struct {
	FullName       string  `json:"full_name"`
	Phone          string  `json:"phone"`
	NextSessionAt  *string `json:"next_session_at"`
	AllowAIContact *bool   `json:"allow_ai_contact"`
}

func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	next, err := optionalTime("next_session_at", req.NextSessionAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	p, err := h.msgs.CreatePatient(r.Context(), therapistID(r), service.PatientInput{
		FullName:       req.FullName,
		Phone:          req.Phone,
		NextSessionAt:  next,
		AllowAIContact: req.AllowAIContact,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	items, err := h.msgs.ListPatients(r.Context(), therapistID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.msgs.GetPatient(r.Context(), therapistID(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
