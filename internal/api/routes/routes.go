package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/aegis-sec/aegis/internal/api/handlers"
	"github.com/aegis-sec/aegis/internal/api/middleware"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/services"
)

// Deps bundles the constructed services the routes depend on.
type Deps struct {
	DB            *gorm.DB
	Config        config.Config
	Events        *services.EventService
	Notifications *services.NotificationService
	Reputation    *services.ReputationService
	RateLimit     *services.RateLimitService
	Sessions      *services.SessionService
}

// Register wires up the API surface: health and metrics outside the
// guard chain, the session endpoints behind it, and the administrative
// surface behind the admin token on top.
func Register(router *gin.Engine, deps Deps) {
	guard := &middleware.Guard{
		Reputation: deps.Reputation,
		RateLimit:  deps.RateLimit,
		Sessions:   deps.Sessions,
	}

	router.GET("/api/v1/health", handlers.HealthHandler)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	api.Use(guard.Enforce())

	sessionHandler := handlers.NewSessionHandler(deps.Sessions)
	api.POST("/sessions/logout", guard.RequireSession(), sessionHandler.Logout)

	admin := api.Group("/admin")
	admin.Use(middleware.AdminAuth(deps.Config.AdminTokenHash))

	accessHandler := handlers.NewAccessHandler(deps.Reputation)
	admin.GET("/access/rules", accessHandler.List)
	admin.POST("/access/block", accessHandler.Block)
	admin.POST("/access/allow", accessHandler.Allow)
	admin.POST("/access/unblock", accessHandler.Unblock)
	admin.POST("/access/geo-restrictions", accessHandler.AddGeoRestriction)
	admin.GET("/access/check/:ip", accessHandler.Check)
	admin.POST("/access/failed-attempts", accessHandler.RecordFailedAttempt)

	admin.POST("/sessions", sessionHandler.Create)
	admin.GET("/users/:userID/sessions", sessionHandler.List)
	admin.POST("/users/:userID/sessions/invalidate-all", sessionHandler.InvalidateAll)
	admin.POST("/users/:userID/devices/:deviceID/trust", sessionHandler.TrustDevice)

	eventHandler := handlers.NewEventHandler(deps.Events)
	admin.GET("/events", eventHandler.List)

	providerHandler := handlers.NewNotificationProviderHandler(deps.Notifications)
	admin.GET("/notifications/providers", providerHandler.List)
	admin.POST("/notifications/providers", providerHandler.Create)
	admin.DELETE("/notifications/providers/:id", providerHandler.Delete)
	admin.POST("/notifications/providers/test", providerHandler.Test)
}
