package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/monocle-dev/relay/db"
	"github.com/monocle-dev/relay/internal/auth"
	"github.com/monocle-dev/relay/internal/bus"
	"github.com/monocle-dev/relay/internal/config"
	"github.com/monocle-dev/relay/internal/hub"
	"github.com/monocle-dev/relay/internal/logging"
	"github.com/monocle-dev/relay/internal/monitors"
	"github.com/monocle-dev/relay/internal/presence"
	"github.com/monocle-dev/relay/internal/router"
	"github.com/monocle-dev/relay/internal/scheduler"
	"github.com/monocle-dev/relay/internal/store"
)

var serverPort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay HTTP and WebSocket server",
	Long: `Start the relay server.

The server will:
- Load configuration from the environment (and .env outside production)
- Connect to Postgres for memberships and notifications
- Use Redis pub/sub for cross-instance fanout when REDIS_URL is set
- Serve /api/ws, the webhook endpoints and /metrics
- Shut down gracefully on SIGINT/SIGTERM

Examples:
  relay serve
  relay serve --port 4100 --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverPort, "port", "", "listen port, overrides PORT")
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverPort != "" {
		cfg.Port = serverPort
	}

	log := logging.Component("server")
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := db.ConnectDatabase(cfg.DB.DSN)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	members := store.NewMembershipStore(conn)
	tasks := store.NewTaskStore(conn)
	notifications := store.NewNotificationStore(conn)

	checks := map[string]monitors.Check{"database": monitors.CheckDatabase(conn)}

	eventBus, tracker, closeRedis, err := buildFanout(cfg, checks)
	if err != nil {
		return err
	}
	defer closeRedis()

	h := hub.New(hub.Options{
		Bus:       eventBus,
		Members:   members,
		Tasks:     tasks,
		Presence:  tracker,
		RateLimit: rate.Limit(cfg.RateLimit.PerSecond),
		Burst:     cfg.RateLimit.Burst,
		Log:       logging.Component("hub"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		if err := h.Run(ctx); err != nil {
			log.WithError(err).Error("hub stopped")
		}
	}()

	jobs := scheduler.NewScheduler(logging.Component("scheduler"))
	defer jobs.Stop()

	if err := jobs.AddJob("notification-retention", cfg.Retention.SweepInterval,
		scheduler.NotificationRetention(notifications, cfg.Retention.NotificationDays)); err != nil {
		return err
	}
	if err := jobs.AddJob("hub-gauges", 15*time.Second, scheduler.HubGauges(h)); err != nil {
		return err
	}

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.NewRouter(router.Deps{
			Hub:           h,
			Tokens:        tokens,
			Members:       members,
			Notifications: notifications,
			Origins:       cfg.Origins,
			WebhookSecret: cfg.Webhook.Secret,
			Checks:        checks,
			Jobs:          jobs,
			Log:           logging.Component("http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("relay listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down")
	case err := <-serverErr:
		cancel()
		<-hubDone
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}

	cancel()
	<-hubDone
	return nil
}

func buildFanout(cfg config.Config, checks map[string]monitors.Check) (bus.Bus, presence.Tracker, func(), error) {
	if !cfg.Redis.Enabled() {
		logging.Component("server").Info("REDIS_URL not set, running single instance")
		return bus.NewLocalBus(), presence.NewMemoryTracker(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	checks["redis"] = monitors.CheckRedis(client)

	redisBus := bus.NewRedisBus(client, cfg.Redis.Channel, logging.Component("bus"))
	closeFn := func() {
		_ = redisBus.Close()
		_ = client.Close()
	}
	return redisBus, presence.NewRedisTracker(client, cfg.Redis.PresencePrefix), closeFn, nil
}
