package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pinnotify/internal/handlers"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.GET("/unread", handler.ListUnread)
		group.GET("/unread-count", handler.UnreadCount)
		group.POST("/read-all", handler.MarkAllRead)
		group.POST("/read", handler.MarkRead)
		group.POST("/stream-ticket", handler.StreamTicket)
		group.DELETE("/:id", handler.Delete)
	}
}
