package handlers

import (
	"net/http"

	"cloudplay/services/notify"
)

type noticeSource interface {
	Drain() []notify.Notice
}

// NotificationsHandler drains buffered background-failure notices.
type NotificationsHandler struct {
	notices noticeSource
}

func NewNotificationsHandler(notices noticeSource) *NotificationsHandler {
	return &NotificationsHandler{notices: notices}
}

// List returns and clears all pending notices.
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.notices.Drain())
}
