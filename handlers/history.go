package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"cloudplay/models"
)

type historyService interface {
	Snapshot() models.WatchHistory
	Get(id string) (models.ProgressRecord, bool)
	Remove(id string) error
	MarkComplete(id string) error
}

// HistoryHandler exposes the watch-history document.
type HistoryHandler struct {
	history historyService
}

func NewHistoryHandler(history historyService) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// List returns the full history document.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.history.Snapshot())
}

// Get returns the progress record for one catalog ID.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := h.history.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no history for id")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete removes the progress record for one catalog ID.
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.history.Remove(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// Complete marks an item fully watched.
func (h *HistoryHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.history.MarkComplete(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, _ := h.history.Get(id)
	writeJSON(w, http.StatusOK, rec)
}
