package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"cloudplay/handlers"
)

// corsMiddleware allows browser frontends on other origins to call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Register mounts the API surface under /api.
func Register(
	r *mux.Router,
	catalog *handlers.CatalogHandler,
	history *handlers.HistoryHandler,
	playback *handlers.PlaybackHandler,
	notifications *handlers.NotificationsHandler,
) {
	r.Use(corsMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/catalog", catalog.Get).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/catalog/refresh", catalog.Refresh).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/catalog/image", catalog.Image).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/catalog/description", catalog.Description).Methods(http.MethodGet, http.MethodOptions)

	api.HandleFunc("/history", history.List).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/history/{id}", history.Get).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/history/{id}", history.Delete).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/history/{id}/complete", history.Complete).Methods(http.MethodPost, http.MethodOptions)

	api.HandleFunc("/playback/play", playback.Play).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/playback/pause", playback.Pause).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/playback/resume", playback.Resume).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/playback/seek", playback.Seek).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/playback/close", playback.Close).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/playback/status", playback.Status).Methods(http.MethodGet, http.MethodOptions)

	api.HandleFunc("/notifications", notifications.List).Methods(http.MethodGet, http.MethodOptions)
}
