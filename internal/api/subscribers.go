package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"MemberSend/internal/csvparser"
	"MemberSend/internal/dedup"
	"MemberSend/internal/models"
)

type addSubscriberRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Tier  string `json:"tier"`
}

func (h *Handler) AddSubscriber(w http.ResponseWriter, r *http.Request) {
	var req addSubscriberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errorResponse(w, "Cannot decode subscriber request payload", http.StatusBadRequest)
		return
	}

	email, ok := validEmail(req.Email)
	if !ok {
		h.errorResponse(w, "A valid email is required", http.StatusBadRequest)
		return
	}

	tenantID := TenantID(r.Context())
	if h.suppressed(r.Context(), dedup.Key(tenantID, "subscriber", email)) {
		h.errorResponse(w, "Duplicate request", http.StatusTooManyRequests)
		return
	}

	sub := &models.Subscriber{
		TenantID: tenantID,
		Email:    email,
		Name:     strings.TrimSpace(req.Name),
		Tier:     strings.TrimSpace(req.Tier),
		Status:   models.SubscriberActive,
		Source:   models.SourceManual,
	}

	if err := h.Store.AddSubscriber(r.Context(), sub); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			h.errorResponse(w, "Subscriber already exists", http.StatusConflict)
			return
		}
		h.handleError(w, r, err)
		return
	}

	h.jsonResponse(w, Envelope{"subscriber": sub}, http.StatusCreated)
}

func (h *Handler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := h.Store.ListSubscribers(r.Context(), TenantID(r.Context()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if subs == nil {
		subs = []models.Subscriber{}
	}

	h.jsonResponse(w, Envelope{"subscribers": subs}, http.StatusOK)
}

type importMember struct {
	ExternalMemberID string `json:"externalMemberId"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	Tier             string `json:"tier"`
	Status           string `json:"status"`
}

// ImportSubscribers upserts a membership export. The body is either a JSON
// array of members, a CSV document, or a multipart form with a "file" part.
func (h *Handler) ImportSubscribers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		h.errorResponse(w, "Malformed Content-Type header", http.StatusBadRequest)
		return
	}

	var (
		subs    []models.Subscriber
		skipped int
	)

	switch mediaType {
	case "application/json":
		subs, skipped, err = h.decodeMembers(r.Body)
	case "text/csv":
		subs, skipped, err = h.parseCSV(r.Body)
	case "multipart/form-data":
		var file io.ReadCloser
		file, _, err = r.FormFile("file")
		if err == nil {
			defer file.Close()
			subs, skipped, err = h.parseCSV(file)
		}
	default:
		h.errorResponse(w, "Content-Type must be application/json, text/csv or multipart/form-data", http.StatusUnsupportedMediaType)
		return
	}
	if err != nil {
		h.errorResponse(w, "Cannot read import: "+err.Error(), http.StatusBadRequest)
		return
	}

	tenantID := TenantID(r.Context())
	n, err := h.Store.UpsertImportedSubscribers(r.Context(), tenantID, subs, time.Now())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.Log.Info("subscribers imported",
		zap.String("tenant_id", tenantID),
		zap.Int("imported", n),
		zap.Int("skipped", skipped),
	)

	h.jsonResponse(w, Envelope{"imported": n, "skipped": skipped}, http.StatusOK)
}

func (h *Handler) decodeMembers(body io.Reader) ([]models.Subscriber, int, error) {
	var members []importMember
	if err := json.NewDecoder(body).Decode(&members); err != nil {
		return nil, 0, err
	}

	limit := h.maxImportRows()
	if len(members) > limit {
		return nil, 0, errors.New("too many members in one import")
	}

	var (
		subs    []models.Subscriber
		skipped int
	)
	seen := make(map[string]bool, len(members))

	for _, m := range members {
		email, ok := validEmail(m.Email)
		if !ok || seen[email] {
			skipped++
			continue
		}
		seen[email] = true

		status := models.SubscriberActive
		if strings.EqualFold(strings.TrimSpace(m.Status), string(models.SubscriberInactive)) {
			status = models.SubscriberInactive
		}

		subs = append(subs, models.Subscriber{
			Email:            email,
			Name:             strings.TrimSpace(m.Name),
			Tier:             strings.TrimSpace(m.Tier),
			Status:           status,
			Source:           models.SourceImport,
			ExternalMemberID: strings.TrimSpace(m.ExternalMemberID),
		})
	}

	return subs, skipped, nil
}

func (h *Handler) parseCSV(body io.Reader) ([]models.Subscriber, int, error) {
	res, err := csvparser.ParseSubscribers(body, h.maxImportRows())
	if err != nil {
		return nil, 0, err
	}
	return res.Subscribers, len(res.Skipped), nil
}

func (h *Handler) maxImportRows() int {
	if h.MaxImportRows > 0 {
		return h.MaxImportRows
	}
	return defaultMaxRows
}

func validEmail(raw string) (string, bool) {
	email := models.NormalizeEmail(raw)
	if email == "" {
		return "", false
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}
