package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pinnotify/internal/realtime"
	"github.com/charlesng35/pinnotify/pkg/errors"
	"github.com/charlesng35/pinnotify/pkg/response"
)

// RealtimeHandler upgrades authenticated HTTP requests into push channels.
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Stream registers the caller's push channel. Identity comes from
// middleware.StreamAuth; a second connection from the same user replaces the first.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrServiceUnavailable)
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	h.hub.Serve(userID, c.Writer, c.Request)
}
