package routes

import (
	"net/http"
	"time"

	"github.com/creatorfund/backend/internal/config"
	"github.com/creatorfund/backend/internal/handlers"
	"github.com/creatorfund/backend/internal/metrics"
	"github.com/creatorfund/backend/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handlers groups the HTTP handlers mounted by NewRouter
type Handlers struct {
	Earnings    *handlers.EarningsHandler
	Payouts     *handlers.PayoutHandler
	AdminLedger *handlers.AdminLedgerHandler
	AdminBonus  *handlers.AdminBonusHandler
}

// NewRouter builds the gin engine with global middleware and every route
func NewRouter(cfg *config.Config, h Handlers, rateLimiter *middleware.RateLimiter, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecureHeaders(cfg.IsProduction()))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	SetupEarningsRoutes(router, cfg, h, rateLimiter)
	SetupAdminRoutes(router, cfg, h, rateLimiter)

	return router
}

// SetupEarningsRoutes registers the routes a creator uses for their own ledger
func SetupEarningsRoutes(router *gin.Engine, cfg *config.Config, h Handlers, rateLimiter *middleware.RateLimiter) {
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg.JWT.Secret), rateLimiter.Middleware())

	earnings := api.Group("/earnings")
	{
		earnings.GET("/balance", h.Earnings.GetBalance)
		earnings.GET("/breakdown", h.Earnings.GetBreakdown)
		earnings.POST("/sync", h.Earnings.Sync)
		earnings.POST("/bonuses/apply", h.Earnings.ApplyBonuses)
		earnings.GET("/bonuses", h.Earnings.ListBonuses)
	}

	payouts := api.Group("/payouts")
	{
		payouts.POST("", h.Payouts.Create)
		payouts.GET("", h.Payouts.List)
	}
}

// SetupAdminRoutes registers staff routes
func SetupAdminRoutes(router *gin.Engine, cfg *config.Config, h Handlers, rateLimiter *middleware.RateLimiter) {
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.AdminMiddleware(), rateLimiter.Middleware())

	payouts := admin.Group("/payouts")
	{
		payouts.GET("", h.Payouts.AdminList)
		payouts.GET("/attention", h.Payouts.AdminAttention)
		payouts.POST("/:id/approve", h.Payouts.Approve)
		payouts.POST("/:id/reject", h.Payouts.Reject)
		payouts.POST("/:id/mark-paid", h.Payouts.MarkPaid)
	}

	ledger := admin.Group("/ledger")
	{
		ledger.POST("/users/:id/resync", h.AdminLedger.Resync)
		ledger.POST("/sync-all", h.AdminLedger.SyncAll)
		ledger.POST("/purge", h.AdminLedger.Purge)
		ledger.POST("/reassign", h.AdminLedger.Reassign)
	}

	rules := admin.Group("/bonus-rules")
	{
		rules.GET("", h.AdminBonus.ListRules)
		rules.POST("", h.AdminBonus.CreateRule)
		rules.PATCH("/:id", h.AdminBonus.UpdateRule)
	}
}
