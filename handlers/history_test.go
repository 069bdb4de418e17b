package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"cloudplay/handlers"
	"cloudplay/models"
)

type fakeHistory struct {
	doc     models.WatchHistory
	removed []string
}

func (f *fakeHistory) Snapshot() models.WatchHistory { return f.doc }

func (f *fakeHistory) Get(id string) (models.ProgressRecord, bool) {
	rec, ok := f.doc[id]
	return rec, ok
}

func (f *fakeHistory) Remove(id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeHistory) MarkComplete(id string) error {
	rec := f.doc[id]
	if rec.Duration <= 0 {
		rec.Duration = 1
	}
	rec.Position = rec.Duration
	f.doc[id] = rec
	return nil
}

func historyRouter(h *handlers.HistoryHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/history", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/history/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/history/{id}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/api/history/{id}/complete", h.Complete).Methods(http.MethodPost)
	return r
}

func TestHistoryListReturnsDocument(t *testing.T) {
	fake := &fakeHistory{doc: models.WatchHistory{
		"id:1": {Position: 10, Duration: 100, LastWatchedEpoch: 5},
	}}
	router := historyRouter(handlers.NewHistoryHandler(fake))

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var doc models.WatchHistory
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc["id:1"].Position != 10 {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestHistoryGetUnknownIDIs404(t *testing.T) {
	router := historyRouter(handlers.NewHistoryHandler(&fakeHistory{doc: models.WatchHistory{}}))

	req := httptest.NewRequest(http.MethodGet, "/api/history/id:missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHistoryDeleteRemovesRecord(t *testing.T) {
	fake := &fakeHistory{doc: models.WatchHistory{"id:1": {Position: 1}}}
	router := historyRouter(handlers.NewHistoryHandler(fake))

	req := httptest.NewRequest(http.MethodDelete, "/api/history/id:1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(fake.removed) != 1 || fake.removed[0] != "id:1" {
		t.Fatalf("expected id:1 removed, got %v", fake.removed)
	}
}

func TestHistoryCompleteReturnsFinishedRecord(t *testing.T) {
	fake := &fakeHistory{doc: models.WatchHistory{"id:1": {Position: 30, Duration: 90}}}
	router := historyRouter(handlers.NewHistoryHandler(fake))

	req := httptest.NewRequest(http.MethodPost, "/api/history/id:1/complete", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got models.ProgressRecord
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Position != 90 || got.Duration != 90 {
		t.Fatalf("expected finished record, got %+v", got)
	}
}
