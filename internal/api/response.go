package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"MemberSend/internal/dispatch"
	"MemberSend/internal/models"
)

type Envelope map[string]interface{}

func (h *Handler) jsonResponse(w http.ResponseWriter, envelope Envelope, statusCode int) {
	j, err := json.Marshal(envelope)
	if err != nil {
		h.Log.Error("failed to marshal json response", zap.Error(err))
		http.Error(w, "Cannot create json response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(j); err != nil {
		h.Log.Warn("failed to write json response", zap.Error(err))
	}
}

func (h *Handler) errorResponse(w http.ResponseWriter, message string, statusCode int) {
	h.jsonResponse(w, Envelope{"error": message}, statusCode)
}

// handleError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a 500 without detail.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := dispatch.IsAdmission(err); ok {
		h.admissionResponse(w, ae)
		return
	}

	switch {
	case errors.Is(err, models.ErrNotFound):
		h.errorResponse(w, "Not found", http.StatusNotFound)
	case errors.Is(err, models.ErrDuplicate):
		h.errorResponse(w, "Already exists", http.StatusConflict)
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, dispatch.ErrShuttingDown):
		h.errorResponse(w, "Dispatch is unavailable, try again later", http.StatusServiceUnavailable)
	default:
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("tenant_id", TenantID(r.Context())),
			zap.Error(err),
		)
		h.errorResponse(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) admissionResponse(w http.ResponseWriter, ae *dispatch.AdmissionError) {
	env := Envelope{
		"error":  ae.Error(),
		"reason": ae.Reason,
	}

	status := http.StatusBadRequest
	switch ae.Reason {
	case dispatch.ReasonQuotaExceeded:
		status = http.StatusTooManyRequests
		env["error"] = fmt.Sprintf("%s email limit reached", ae.Period)
		env["remainingEmails"] = ae.Remaining
		env["requested"] = ae.Requested
		env["limit"] = ae.Limit
		env["period"] = ae.Period
	case dispatch.ReasonNotDraft:
		status = http.StatusConflict
		env["status"] = ae.Status
	case dispatch.ReasonTenantBusy:
		status = http.StatusConflict
	}

	h.jsonResponse(w, env, status)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
