package api

import (
	"crypto/subtle"
	"io"
	"net/http"

	"go.uber.org/zap"

	"MemberSend/internal/events"
)

const (
	webhookSecretHeader = "X-Webhook-Secret"
	snsTypeHeader       = "X-Amz-Sns-Message-Type"
)

// EmailEvents ingests provider callbacks. SNS cannot send custom headers,
// so the secret is also accepted as the "token" query parameter.
func (h *Handler) EmailEvents(w http.ResponseWriter, r *http.Request) {
	if !h.webhookAuthorized(r) {
		h.errorResponse(w, "Invalid webhook secret", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		h.errorResponse(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	var batch []events.Event

	if r.Header.Get(snsTypeHeader) != "" {
		msg, err := events.ParseSNS(body)
		if err != nil {
			h.errorResponse(w, "Cannot decode SNS message", http.StatusBadRequest)
			return
		}

		if msg.SubscribeURL != "" {
			if err := events.ConfirmSubscription(r.Context(), h.httpClient(), msg.SubscribeURL); err != nil {
				h.Log.Error("sns subscription confirmation failed", zap.Error(err))
				h.errorResponse(w, "Cannot confirm subscription", http.StatusBadGateway)
				return
			}
			h.Log.Info("sns subscription confirmed")
			h.jsonResponse(w, Envelope{"status": "confirmed"}, http.StatusOK)
			return
		}

		if msg.Event != nil {
			batch = append(batch, *msg.Event)
		}
	} else {
		batch, err = events.ParseWebhook(body)
		if err != nil {
			h.errorResponse(w, "Cannot decode event payload", http.StatusBadRequest)
			return
		}
	}

	counts := map[events.Outcome]int{}
	for _, ev := range batch {
		outcome, err := h.Events.Ingest(r.Context(), ev)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		counts[outcome]++
	}

	h.jsonResponse(w, Envelope{
		"recorded":   counts[events.OutcomeRecorded],
		"duplicates": counts[events.OutcomeDuplicate],
		"dropped":    counts[events.OutcomeDropped],
	}, http.StatusOK)
}

func (h *Handler) webhookAuthorized(r *http.Request) bool {
	if h.WebhookSecret == "" {
		return false
	}

	given := r.Header.Get(webhookSecretHeader)
	if given == "" {
		given = r.URL.Query().Get("token")
	}

	return subtle.ConstantTimeCompare([]byte(given), []byte(h.WebhookSecret)) == 1
}

func (h *Handler) httpClient() *http.Client {
	if h.HTTPClient != nil {
		return h.HTTPClient
	}
	return http.DefaultClient
}
