package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"MemberSend/internal/dedup"
	"MemberSend/internal/dispatch"
	"MemberSend/internal/models"
)

type createCampaignRequest struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errorResponse(w, "Cannot decode campaign request payload", http.StatusBadRequest)
		return
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" || strings.TrimSpace(req.HTML) == "" {
		h.errorResponse(w, "Subject and html are required", http.StatusBadRequest)
		return
	}

	c := &models.Campaign{
		TenantID: TenantID(r.Context()),
		Subject:  subject,
		HTMLBody: req.HTML,
	}
	if err := h.Store.CreateCampaign(r.Context(), c); err != nil {
		h.handleError(w, r, err)
		return
	}

	h.jsonResponse(w, Envelope{"campaign": c}, http.StatusCreated)
}

func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(r)
	if !ok {
		h.errorResponse(w, "Not found", http.StatusNotFound)
		return
	}

	c, err := h.Store.GetCampaign(r.Context(), TenantID(r.Context()), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.jsonResponse(w, Envelope{"campaign": c}, http.StatusOK)
}

// SendCampaign admits the campaign and returns the job key to poll. The
// sends themselves happen on the worker pool.
func (h *Handler) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(r)
	if !ok {
		h.errorResponse(w, "Not found", http.StatusNotFound)
		return
	}

	tenantID := TenantID(r.Context())
	dedupKey := dedup.Key(tenantID, "send", strconv.FormatInt(id, 10))
	if h.suppressed(r.Context(), dedupKey) {
		h.errorResponse(w, "Duplicate request", http.StatusTooManyRequests)
		return
	}

	key, err := h.Dispatcher.Start(r.Context(), tenantID, id)
	if err != nil {
		// A refused send changed nothing; let the retry see the real reason.
		if _, ok := dispatch.IsAdmission(err); ok && h.Dedup != nil {
			h.Dedup.Forget(r.Context(), dedupKey)
		}
		h.handleError(w, r, err)
		return
	}

	h.jsonResponse(w, Envelope{"jobKey": key}, http.StatusAccepted)
}

func (h *Handler) SendStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(r)
	key := r.URL.Query().Get("key")
	if !ok || key == "" {
		h.errorResponse(w, "Not found", http.StatusNotFound)
		return
	}

	job, found, err := h.Progress.Get(r.Context(), key)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	// Another tenant's key reads the same as an unknown one.
	if !found || job.TenantID != TenantID(r.Context()) || job.CampaignID != id {
		h.errorResponse(w, "Not found", http.StatusNotFound)
		return
	}

	env := Envelope{
		"status":     job.Status,
		"current":    job.Current,
		"total":      job.Total,
		"sent":       job.Sent,
		"failed":     job.Failed,
		"percentage": job.Percentage(),
	}
	if job.Error != "" {
		env["error"] = job.Error
	}

	h.jsonResponse(w, env, http.StatusOK)
}

func campaignID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}
