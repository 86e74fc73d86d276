package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/roomscan/internal/api/response"
	"github.com/kiranshivaraju/roomscan/internal/apperr"
	"github.com/kiranshivaraju/roomscan/internal/feedback"
)

const maxFeedbackBytes = 64 << 10

type Feedback struct {
	svc FeedbackService
}

func NewFeedback(svc FeedbackService) *Feedback {
	return &Feedback{svc: svc}
}

// Submit handles POST /api/v1/jobs/{jobID}/feedback.
func (h *Feedback) Submit(w http.ResponseWriter, r *http.Request) {
	var in feedback.SubmitInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFeedbackBytes)).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "Invalid request body", nil)
		return
	}

	fb, err := h.svc.Submit(r.Context(), chi.URLParam(r, "jobID"), in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, fb)
}

// List handles GET /api/v1/jobs/{jobID}/feedback.
func (h *Feedback) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListByJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, map[string]any{"feedback": items})
}
