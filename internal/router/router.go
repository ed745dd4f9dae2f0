package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/monocle-dev/relay/internal/auth"
	"github.com/monocle-dev/relay/internal/handlers"
	"github.com/monocle-dev/relay/internal/hub"
	"github.com/monocle-dev/relay/internal/metrics"
	"github.com/monocle-dev/relay/internal/middleware"
	"github.com/monocle-dev/relay/internal/monitors"
	"github.com/monocle-dev/relay/internal/store"
)

// Deps is everything the routes need. Checks back /api/ready keyed by
// dependency name; Jobs is reported on /api/health when set.
type Deps struct {
	Hub           *hub.Hub
	Tokens        *auth.TokenManager
	Members       store.MembershipStore
	Notifications store.NotificationStore
	Origins       []string
	WebhookSecret string
	Checks        map[string]monitors.Check
	Jobs          handlers.JobReporter
	Log           logrus.FieldLogger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Log))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     deps.Origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	ws := handlers.NewWSHandler(deps.Hub, deps.Origins, deps.Log.WithField("component", "ws"))
	webhooks := handlers.NewWebhookHandler(deps.Hub, deps.Notifications, deps.Log.WithField("component", "webhook"))
	notifications := handlers.NewNotificationHandler(deps.Notifications, deps.Log.WithField("component", "notifications"))
	presence := handlers.NewPresenceHandler(deps.Hub, deps.Members, deps.Log.WithField("component", "presence"))

	requireUser := middleware.AuthMiddleware(deps.Tokens)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.GET("/health", handlers.HealthCheck(deps.Hub, deps.Jobs))
		api.GET("/ready", handlers.ReadinessCheck(deps.Checks))
		api.GET("/ws", requireUser, ws.Connect)

		api.GET("/projects/:project_id/presence", requireUser, presence.Get)

		inbox := api.Group("/notifications", requireUser)
		{
			inbox.GET("", notifications.List)
			inbox.PATCH("/:id/read", notifications.MarkRead)
			inbox.POST("/read-all", notifications.MarkAllRead)
		}

		hooks := api.Group("/webhooks", middleware.WebhookAuth(deps.WebhookSecret))
		{
			hooks.POST("/notifications", webhooks.Notify)
			hooks.POST("/projects/:project_id/refresh", webhooks.Refresh)
		}
	}

	return r
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Socket lifetimes are logged by the ws handler.
		if c.FullPath() == "/api/ws" {
			return
		}

		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	}
}
