package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creatorfund/backend/internal/config"
	"github.com/creatorfund/backend/internal/database"
	"github.com/creatorfund/backend/internal/handlers"
	"github.com/creatorfund/backend/internal/jobs"
	"github.com/creatorfund/backend/internal/lock"
	"github.com/creatorfund/backend/internal/logger"
	"github.com/creatorfund/backend/internal/middleware"
	"github.com/creatorfund/backend/internal/routes"
	"github.com/creatorfund/backend/internal/security"
	"github.com/creatorfund/backend/internal/services/bonus"
	"github.com/creatorfund/backend/internal/services/ledger"
	"github.com/creatorfund/backend/internal/services/notify"
	"github.com/creatorfund/backend/internal/services/payout"
	"github.com/creatorfund/backend/internal/services/reconcile"
	"github.com/creatorfund/backend/internal/services/transport"
	"github.com/creatorfund/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.New(os.Stdout, cfg.Environment)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	locker, notifier, closeRedis := coordination(cfg, log)
	defer closeRedis()
	defer notifier.Wait()

	authz := security.NewRoleAuthorizer()

	refs, err := utils.NewReferenceGenerator(cfg.Server.NodeID)
	if err != nil {
		log.WithError(err).Fatal("Failed to create reference generator")
	}

	// Initialize services
	aggregator := ledger.NewAggregator(db, locker, ledger.Config{
		CreatorShare:   cfg.Ledger.CreatorShare,
		DriftTolerance: cfg.Ledger.DriftTolerance,
	}, log)
	bonusEngine := bonus.NewEngine(db, locker, aggregator, authz, log)

	payoutTransport := transport.NewRetrying(
		transport.NewHTTPTransport(transport.HTTPConfig{
			BaseURL: cfg.Transport.BaseURL,
			APIKey:  cfg.Transport.APIKey,
			Timeout: cfg.Transport.Timeout,
		}),
		transport.RetryConfig{
			MaxAttempts:     cfg.Transport.MaxAttempts,
			InitialInterval: cfg.Transport.InitialBackoff,
			MaxInterval:     cfg.Transport.MaxBackoff,
			Multiplier:      2,
			RatePerSecond:   cfg.Transport.RatePerSecond,
		},
		log,
	)

	payoutService := payout.NewService(db, locker, aggregator, payoutTransport, authz, notifier, refs, payout.Config{
		MinAmount:           cfg.Ledger.MinPayout,
		AllowRejectApproved: cfg.Ledger.AllowRejectApproved,
	}, log)
	reconciler := reconcile.NewService(db, locker, aggregator, bonusEngine, authz, log)

	// Initialize handlers
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	router := routes.NewRouter(cfg, routes.Handlers{
		Earnings:    handlers.NewEarningsHandler(aggregator, bonusEngine, log),
		Payouts:     handlers.NewPayoutHandler(payoutService, log),
		AdminLedger: handlers.NewAdminLedgerHandler(reconciler, authz, cfg.Jobs.BatchConcurrency, cfg.Ledger.SyntheticOrigins, log),
		AdminBonus:  handlers.NewAdminBonusHandler(bonusEngine, log),
	}, rateLimiter, log)

	// Schedule recurring jobs
	var scheduler *jobs.Scheduler
	if cfg.Jobs.Enabled {
		scheduler = jobs.NewScheduler(reconciler, cfg.Jobs, log)
		if err := scheduler.Register(); err != nil {
			log.WithError(err).Fatal("Failed to schedule jobs")
		}
		scheduler.Start()
	}

	srv := startServer(router, cfg.Server, log)

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exiting")
}

// coordination builds the per-user locker and the notification sink. With
// Redis they span instances; without it (development only) they stay in process.
func coordination(cfg *config.Config, log *logrus.Logger) (lock.Locker, *notify.BestEffort, func()) {
	local := lock.NewKeyedMutex()

	if cfg.Redis.URL == "" {
		log.Warn("REDIS_URL not set, using in-process locks and logged notifications")
		return local, notify.NewBestEffort(notify.NewLogNotifier(log), log, 5*time.Second), func() {}
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.WithError(err).Fatal("Invalid REDIS_URL")
	}
	redisClient := redis.NewClient(redisOpts)

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}

	// The in-process mutex queues local callers; the Redis lock excludes other instances.
	locker := lock.Chain{local, lock.NewRedisLocker(redisClient, cfg.Redis.LockTTL, log)}
	notifier := notify.NewBestEffort(notify.NewRedisNotifier(redisClient, cfg.Redis.NotificationKey), log, 5*time.Second)
	return locker, notifier, func() { redisClient.Close() }
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, cfg config.ServerConfig, log logrus.FieldLogger) *http.Server {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.WithField("port", cfg.Port).Info("Server started")
	return srv
}
