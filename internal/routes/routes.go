package routes

import (
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/work-manager-team/Work-Management-sub001/internal/config"
	"github.com/work-manager-team/Work-Management-sub001/internal/handlers"
	"github.com/work-manager-team/Work-Management-sub001/internal/metrics"
	"github.com/work-manager-team/Work-Management-sub001/internal/middleware"
	"github.com/work-manager-team/Work-Management-sub001/internal/realtime"
	"github.com/work-manager-team/Work-Management-sub001/internal/sessionlog"
)

// Deps are the long-lived components the routes are built from. Metrics,
// Sessions, Recorder and ActiveSockets may be nil.
type Deps struct {
	Config   config.Config
	Gateway  *realtime.Gateway
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Sessions *sessionlog.Store
	Recorder *sessionlog.Recorder

	ActiveSockets *sync.WaitGroup
}

func SetupRoutes(deps Deps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config
	origins := middleware.NewOriginPolicy(cfg.AllowedOrigins)

	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())
	ginRouter.Use(middleware.RequestLogger(log))
	ginRouter.Use(middleware.CORS(origins))

	ws := handlers.NewWebSocketHandler(deps.Gateway, deps.Recorder, log, handlers.WSOptions{
		Origins:        origins,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
		RateLimit:      cfg.RateLimit,
		Active:         deps.ActiveSockets,
	})
	ginRouter.GET(cfg.WSPath, ws.Handle)

	notifications := handlers.NewNotificationHandler(deps.Gateway, deps.Sessions, deps.Metrics, log)
	guard := middleware.RequireAPIKey(cfg.TriggerAPIKey)
	api := ginRouter.Group("/notifications")
	{
		api.POST("/trigger", guard, notifications.Trigger)
		api.GET("/sessions", guard, notifications.Sessions)
		api.GET("/health", notifications.Health)
		api.GET("/stats", notifications.Stats)
	}

	ginRouter.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	return ginRouter
}
