package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"cloudplay/models"
	"cloudplay/services/dropbox"
	"cloudplay/services/playback"
)

// playbackCoordinator is the surface of the session coordinator the handler
// needs.
type playbackCoordinator interface {
	Play(ctx context.Context, id string, duration float64) (playback.Session, error)
	Pause() (playback.Session, error)
	Resume() (playback.Session, error)
	Seek(position float64) (playback.Session, error)
	Close() playback.Session
	Status() playback.Session
}

// PlaybackHandler drives the single active playback session.
type PlaybackHandler struct {
	playback playbackCoordinator
}

var _ playbackCoordinator = (*playback.Service)(nil)

func NewPlaybackHandler(p playbackCoordinator) *PlaybackHandler {
	return &PlaybackHandler{playback: p}
}

// Play starts a session for the requested catalog ID.
func (h *PlaybackHandler) Play(w http.ResponseWriter, r *http.Request) {
	var payload models.PlayPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid play payload")
		return
	}
	if payload.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	sess, err := h.playback.Play(r.Context(), payload.ID, payload.DurationSeconds)
	if err != nil {
		h.writePlaybackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *PlaybackHandler) Pause(w http.ResponseWriter, r *http.Request) {
	sess, err := h.playback.Pause()
	if err != nil {
		h.writePlaybackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *PlaybackHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sess, err := h.playback.Resume()
	if err != nil {
		h.writePlaybackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Seek moves the playhead of the active session.
func (h *PlaybackHandler) Seek(w http.ResponseWriter, r *http.Request) {
	var payload models.SeekPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid seek payload")
		return
	}

	sess, err := h.playback.Seek(payload.PositionSeconds)
	if err != nil {
		h.writePlaybackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Close ends the active session, committing its final position.
func (h *PlaybackHandler) Close(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.playback.Close())
}

// Status reports the current session state.
func (h *PlaybackHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.playback.Status())
}

func (h *PlaybackHandler) writePlaybackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playback.ErrUnknownCatalogID):
		writeError(w, http.StatusNotFound, "id not in catalog")
	case errors.Is(err, playback.ErrNoActiveSession):
		writeError(w, http.StatusConflict, "no active playback session")
	case errors.Is(err, playback.ErrLocatorFailed):
		writeError(w, http.StatusBadGateway, "could not resolve a streaming link")
	case errors.Is(err, dropbox.ErrAuthFailed):
		writeError(w, http.StatusUnauthorized, "cloud authorization failed; re-link the app")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
