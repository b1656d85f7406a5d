package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler, jwtSecret []byte) http.Handler {
	router := mux.NewRouter()
	router.Use(h.RequestLogging)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.errorResponse(w, "Not found", http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.errorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// unauthenticated
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/email-events", h.EmailEvents).Methods(http.MethodPost)

	tenant := router.NewRoute().Subrouter()
	tenant.Use(h.Authenticate(jwtSecret))

	tenant.HandleFunc("/quota", h.GetQuota).Methods(http.MethodGet)

	tenant.HandleFunc("/subscribers", h.AddSubscriber).Methods(http.MethodPost)
	tenant.HandleFunc("/subscribers", h.ListSubscribers).Methods(http.MethodGet)
	tenant.HandleFunc("/subscribers/import", h.ImportSubscribers).Methods(http.MethodPost)

	tenant.HandleFunc("/campaigns", h.CreateCampaign).Methods(http.MethodPost)
	tenant.HandleFunc("/campaigns/{id:[0-9]+}", h.GetCampaign).Methods(http.MethodGet)
	tenant.HandleFunc("/campaigns/{id:[0-9]+}/send", h.SendCampaign).Methods(http.MethodPost)
	tenant.HandleFunc("/campaigns/{id:[0-9]+}/send/status", h.SendStatus).Methods(http.MethodGet)

	return router
}
