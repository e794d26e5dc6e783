package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/pinnotify/internal/auth"
	"github.com/charlesng35/pinnotify/internal/middleware"
	"github.com/charlesng35/pinnotify/internal/services"
	"github.com/charlesng35/pinnotify/pkg/errors"
	"github.com/charlesng35/pinnotify/pkg/response"
)

// NotificationHandler exposes the read side of the notification engine over HTTP.
type NotificationHandler struct {
	service *services.NotificationService
	jwt     *iauth.JWTService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(service *services.NotificationService, jwt *iauth.JWTService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification handler: service is required")
	}
	return &NotificationHandler{service: service, jwt: jwt}, nil
}

type markReadRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
}

// List returns a page of the caller's notifications, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	h.list(c, h.service.ListNotifications)
}

// ListUnread returns a page of the caller's unread notifications.
func (h *NotificationHandler) ListUnread(c *gin.Context) {
	h.list(c, h.service.ListUnread)
}

type listFunc func(ctx context.Context, userID string, page services.Page) ([]services.NotificationDTO, int64, error)

func (h *NotificationHandler) list(c *gin.Context, fetch listFunc) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page := services.Page{
		Number: parseIntQuery(c, "page", 0),
		Size:   parseIntQuery(c, "size", 0),
	}

	items, total, err := fetch(requestContext(c), userID, page)
	if err != nil {
		response.Error(c, err)
		return
	}

	effective := page.Normalise()
	response.SuccessWithMeta(c, http.StatusOK, items, response.NewMeta(effective.Number, effective.Size, total))
}

// UnreadCount returns the caller's badge count.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	count, err := h.service.GetUnreadCount(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"unread_count": count})
}

// MarkAllRead transitions every unread notification of the caller to READ.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	updated, err := h.service.MarkAllAsRead(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// MarkRead transitions the listed notifications to READ. Ids the caller does
// not own, or that are already read, are ignored.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var payload markReadRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	updated, err := h.service.MarkAsRead(requestContext(c), userID, payload.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// Delete removes one of the caller's notifications.
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, errors.NewBadRequest("notification id is required"))
		return
	}

	if err := h.service.Delete(requestContext(c), userID, id); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// StreamTicket issues a short-lived ticket for opening the push stream.
func (h *NotificationHandler) StreamTicket(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if h.jwt == nil {
		response.Error(c, errors.ErrServiceUnavailable)
		return
	}

	ticket, err := h.jwt.GenerateStreamTicket(userID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"ticket":     ticket,
		"expires_in": int(iauth.DefaultStreamTicketTTL.Seconds()),
	})
}

func currentUser(c *gin.Context) (string, bool) {
	userID := middleware.UserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}
