package models

// ProgressRecord stores playback progress for one catalog item.
// Position is always within [0, Duration]; LastWatchedEpoch is a Unix
// timestamp that never moves backwards for a given key.
type ProgressRecord struct {
	Position         float64 `json:"position"`
	Duration         float64 `json:"duration"`
	LastWatchedEpoch int64   `json:"lastWatched"`
}

// WatchHistory maps a catalog item ID to its progress record. This is the
// full persisted document: one copy lives remotely (authoritative) and one
// locally (fallback), reconciled wholesale at load time.
type WatchHistory map[string]ProgressRecord

// Clone returns a deep copy of the history map.
func (h WatchHistory) Clone() WatchHistory {
	out := make(WatchHistory, len(h))
	for id, rec := range h {
		out[id] = rec
	}
	return out
}

// SeekPayload is the request body for a playback seek.
type SeekPayload struct {
	PositionSeconds float64 `json:"positionSeconds"`
}

// PlayPayload is the request body for a playback start.
// DurationSeconds may be 0 when the player has not probed the media yet; the
// coordinator then falls back to the duration stored in history, if any.
type PlayPayload struct {
	ID              string  `json:"id"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}
