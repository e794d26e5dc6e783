package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pinnotify/internal/app"
	iauth "github.com/charlesng35/pinnotify/internal/auth"
	"github.com/charlesng35/pinnotify/internal/handlers"
	"github.com/charlesng35/pinnotify/internal/middleware"
	"github.com/charlesng35/pinnotify/internal/monitoring"
	"github.com/charlesng35/pinnotify/internal/realtime"
	"github.com/charlesng35/pinnotify/internal/services"
)

// Dependencies are the components the HTTP surface serves.
type Dependencies struct {
	Config        *app.Config
	JWT           *iauth.JWTService
	Notifications *services.NotificationService
	Hub           *realtime.Hub
	Health        *monitoring.HealthManager
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Notifications == nil {
		return nil, fmt.Errorf("notification service must be provided")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("push hub must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	registerHealthRoutes(r, deps.Config, handlers.NewHealthHandler(deps.Health))
	registerMonitoringRoutes(r, deps.Config)

	notificationHandler, err := handlers.NewNotificationHandler(deps.Notifications, deps.JWT)
	if err != nil {
		return nil, err
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))
	registerNotificationRoutes(api, notificationHandler)

	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub)
	r.GET("/ws/notifications", middleware.StreamAuth(deps.JWT), realtimeHandler.Stream)

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
