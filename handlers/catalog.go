package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"cloudplay/models"
	"cloudplay/services/dropbox"
)

type catalogService interface {
	Catalog() models.Catalog
	Refresh(ctx context.Context) error
	FileAt(pathLower string) (models.RemoteFile, bool)
	BuiltAt() time.Time
}

type remoteReader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// CatalogHandler serves the movie/series catalog and the sidecar artwork and
// description files that live next to the media.
type CatalogHandler struct {
	catalog catalogService
	remote  remoteReader
}

func NewCatalogHandler(catalog catalogService, remote remoteReader) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, remote: remote}
}

// Get returns the current catalog.
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	c := h.catalog.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"movies":  c.Movies,
		"series":  c.Series,
		"builtAt": h.catalog.BuiltAt(),
	})
}

// Refresh triggers a full catalog rebuild and waits for its outcome.
func (h *CatalogHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Refresh(r.Context()); err != nil {
		if errors.Is(err, dropbox.ErrAuthFailed) {
			writeError(w, http.StatusUnauthorized, "cloud authorization failed; re-link the app")
			return
		}
		writeError(w, http.StatusBadGateway, "catalog refresh failed; previous catalog kept")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// Image streams a thumbnail that is part of the current file index. Paths
// outside the index are rejected so the endpoint cannot be used as an open
// proxy into the cloud account.
func (h *CatalogHandler) Image(w http.ResponseWriter, r *http.Request) {
	file, ok := h.indexedFile(w, r)
	if !ok {
		return
	}

	data, err := h.remote.Download(r.Context(), file.PathDisplay)
	if err != nil {
		writeError(w, http.StatusBadGateway, "could not fetch image")
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Description returns the sidecar description text for a catalog folder.
func (h *CatalogHandler) Description(w http.ResponseWriter, r *http.Request) {
	file, ok := h.indexedFile(w, r)
	if !ok {
		return
	}

	data, err := h.remote.Download(r.Context(), file.PathDisplay)
	if err != nil {
		writeError(w, http.StatusBadGateway, "could not fetch description")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"description": string(data)})
}

func (h *CatalogHandler) indexedFile(w http.ResponseWriter, r *http.Request) (models.RemoteFile, bool) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return models.RemoteFile{}, false
	}

	file, ok := h.catalog.FileAt(path)
	if !ok {
		writeError(w, http.StatusNotFound, "path not in catalog")
		return models.RemoteFile{}, false
	}
	return file, true
}
