// Package api wires together all HTTP routes for the shelter registry.
//
// Route groups:
//   - /manage/{action}/{token}/ serves the links embedded in notifications. They
//     carry their own authorization (the token) and take no session.
//   - /api/v1/ is the JSON API. Registration, login, password reset and the animal
//     listing are public; /associations/me needs an association session and
//     /admin needs an admin session.
//   - /telegram/webhook receives bot updates when the Telegram integration is on.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/shelter-registry/shelter-registry/internal/api/admin"
	"github.com/shelter-registry/shelter-registry/internal/api/animals"
	"github.com/shelter-registry/shelter-registry/internal/api/associations"
	"github.com/shelter-registry/shelter-registry/internal/api/manage"
	"github.com/shelter-registry/shelter-registry/internal/audit"
	"github.com/shelter-registry/shelter-registry/internal/auth"
	"github.com/shelter-registry/shelter-registry/internal/config"
	"github.com/shelter-registry/shelter-registry/internal/db/repositories"
	"github.com/shelter-registry/shelter-registry/internal/jobs"
	"github.com/shelter-registry/shelter-registry/internal/lifecycle"
	"github.com/shelter-registry/shelter-registry/internal/middleware"
	"github.com/shelter-registry/shelter-registry/internal/notify"
	"github.com/shelter-registry/shelter-registry/internal/safego"
	"github.com/shelter-registry/shelter-registry/internal/storage"
	"github.com/shelter-registry/shelter-registry/internal/storage/local"
	"github.com/shelter-registry/shelter-registry/internal/telegram"
	"github.com/shelter-registry/shelter-registry/internal/telemetry"

	// Import storage backends to register them
	_ "github.com/shelter-registry/shelter-registry/internal/storage/s3"
)

// Version is reported by /version and the version command. Release builds set it
// with -ldflags "-X .../internal/api.Version=...".
var Version = "0.1.0"

// BackgroundServices holds references to resources that must be stopped during
// graceful shutdown. The caller (cmd/server) calls Shutdown after the HTTP server
// has drained.
type BackgroundServices struct {
	dailySummary *jobs.DailySummaryJob
	audit        *audit.MultiShipper
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.dailySummary != nil {
		bg.dailySummary.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.audit != nil {
		if err := bg.audit.Close(); err != nil {
			slog.Error("failed to close audit trail", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. rdb may be nil, in which case
// rate limits and chat conversations are kept in process memory.
func NewRouter(cfg *config.Config, db *sqlx.DB, rdb redis.UniversalClient) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	associationRepo := repositories.NewAssociationRepository(db)
	animalRepo := repositories.NewAnimalRepository(db)

	var bot *telegram.Client
	if cfg.Notifications.Telegram.Enabled {
		tg := cfg.Notifications.Telegram
		bot = telegram.NewClient(tg.APIBaseURL, tg.BotToken, tg.MessagesPerSecond)
	}

	auditTrail, err := audit.NewMultiShipper(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit trail: %w", err)
	}
	bg.audit = auditTrail

	notifier := buildNotifier(cfg, bot)
	if auditTrail.Len() > 0 {
		notifier = notify.Multi{notifier, audit.NewNotifier(auditTrail)}
	}

	svc := lifecycle.NewService(associationRepo, notifier, lifecycle.Options{
		Links:    notify.NewLinkBuilder(cfg.Server.GetPublicURL() + "/manage"),
		ResetTTL: cfg.Tokens.PasswordResetTTL,
		Animals:  animalRepo,
	})

	// Rate limiters
	newLimiter := func(rc middleware.RateLimitConfig) middleware.Limiter {
		if rdb != nil {
			return middleware.NewRedisLimiter(rdb, rc)
		}
		rl := middleware.NewRateLimiter(rc)
		bg.rateLimiters = append(bg.rateLimiters, rl)
		return rl
	}
	limit := func(middleware.Limiter, string) gin.HandlerFunc {
		return func(c *gin.Context) { c.Next() }
	}
	var generalLimiter, authLimiter, resetLimiter middleware.Limiter
	if rlc := cfg.Security.RateLimiting; rlc.Enabled {
		general := middleware.DefaultRateLimitConfig()
		if rlc.RequestsPerMinute > 0 {
			general.Requests = rlc.RequestsPerMinute
		}
		if rlc.Burst > 0 {
			general.BurstSize = rlc.Burst
		}
		generalLimiter = newLimiter(general)
		authLimiter = newLimiter(middleware.AuthRateLimitConfig())
		resetLimiter = newLimiter(middleware.PasswordResetRateLimitConfig(rlc.PasswordResetPerHour))
		limit = middleware.RateLimitMiddleware
	}

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// System
	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, storageBackend))
	router.GET("/version", versionHandler())

	if ls, ok := storageBackend.(*local.LocalStorage); ok {
		router.Static(local.MediaPrefix, ls.BasePath())
	}

	// Token links
	links := manage.NewHandlers(svc)
	manageGroup := router.Group("/manage", limit(generalLimiter, "manage"))
	{
		manageGroup.GET("/:action/:token/", links.ShowHandler())
		manageGroup.POST("/:action/:token/", links.PerformHandler())
	}

	assocHandlers := associations.NewHandlers(svc, storageBackend, cfg.Auth.SessionTTL)
	adminAuth := admin.NewAuthHandlers(auth.NewAdminDirectory(cfg.Auth.Admins), cfg.Auth.SessionTTL)
	moderation := admin.NewAssociationHandlers(svc, associationRepo)
	stats := admin.NewStatsHandler(associationRepo)
	listings := animals.NewHandler(animalRepo)

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("", limit(authLimiter, "auth"))
		{
			authGroup.POST("/associations", assocHandlers.RegisterHandler())
			authGroup.POST("/auth/login", assocHandlers.LoginHandler())
			authGroup.POST("/admin/login", adminAuth.LoginHandler())
		}

		resetGroup := v1.Group("/password-reset")
		{
			resetGroup.POST("", countThrottledResets(), limit(resetLimiter, "password-reset"), assocHandlers.RequestResetHandler())
			resetGroup.GET("/:token", limit(generalLimiter, "public"), assocHandlers.ValidateResetHandler())
			resetGroup.POST("/:token", limit(authLimiter, "auth"), assocHandlers.ConsumeResetHandler())
		}

		v1.GET("/animals", limit(generalLimiter, "public"), listings.ListHandler())

		me := v1.Group("/associations/me",
			middleware.RequireRole(auth.RoleAssociation),
			limit(generalLimiter, "session"))
		{
			me.GET("", assocHandlers.MeHandler())
			me.PUT("/logo", assocHandlers.UploadLogoHandler())
		}

		adminGroup := v1.Group("/admin",
			middleware.RequireRole(auth.RoleAdmin),
			limit(generalLimiter, "admin"))
		{
			adminGroup.GET("/associations", moderation.ListHandler())
			adminGroup.GET("/associations/:id", moderation.GetHandler())
			adminGroup.POST("/associations/:id/:transition", moderation.TransitionHandler())
			adminGroup.DELETE("/associations/:id", moderation.DeleteHandler())
			adminGroup.GET("/stats", stats.GetStats)
		}
	}

	if bot != nil {
		tg := cfg.Notifications.Telegram
		var convStore telegram.ConversationStore
		if rdb != nil {
			convStore = telegram.NewRedisStore(rdb, tg.ConversationTTL)
		} else {
			convStore = telegram.NewMemoryStore(tg.ConversationTTL)
		}
		webhook := telegram.NewWebhookHandler(bot, svc, telegram.WebhookOptions{
			AdminChatID:   tg.ChatID,
			Secret:        tg.WebhookSecret,
			Conversations: telegram.NewConversations(convStore, svc),
			Stats:         associationRepo,
		})
		router.GET("/telegram/webhook", webhook.Health)
		router.POST("/telegram/webhook", webhook.Handle)
		slog.Info("telegram webhook enabled", "chat_id", tg.ChatID)

		if tg.DailySummary {
			summary := jobs.NewDailySummaryJob(repositories.NewActivityRepository(db), bot, tg.ChatID, tg.DailySummaryInterval)
			safego.Go("daily-summary", func() { summary.Start(context.Background()) })
			bg.dailySummary = summary
		}
	}

	return router, bg, nil
}

// buildNotifier assembles the outbound channels that are configured.
func buildNotifier(cfg *config.Config, bot *telegram.Client) notify.Notifier {
	nc := cfg.Notifications
	if !nc.Enabled {
		slog.Info("notifications disabled")
		return notify.Nop{}
	}

	var channels notify.Multi
	if nc.SMTP.Host != "" {
		channels = append(channels, notify.NewEmailNotifier(notify.NewSMTPMailer(nc.SMTP), nc.AdminEmail))
	}
	if bot != nil {
		channels = append(channels, telegram.NewNotifier(bot, nc.Telegram.ChatID))
	}
	if len(channels) == 0 {
		slog.Warn("notifications enabled but no channel is configured")
	}
	return channels
}

// countThrottledResets records password reset requests refused by the rate limiter.
// It must run before the limiter so it observes the aborted response.
func countThrottledResets() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() == http.StatusTooManyRequests {
			telemetry.PasswordResetsTotal.WithLabelValues("throttled").Inc()
		}
	}
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and the logo storage backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend so
// that a readiness gate fails when logo uploads would error.
func readinessHandler(db *sqlx.DB, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Probe with a known-absent path: exercises credentials and connectivity
		// without creating state.
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if _, err := storageBackend.Exists(ctx, ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request. The output format
// follows the global slog handler installed by telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", redactTokenPath(c, path)),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.RequestID(c)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// redactTokenPath keeps link and reset tokens out of the access log.
func redactTokenPath(c *gin.Context, path string) string {
	if c.Param("token") == "" {
		return path
	}
	if route := c.FullPath(); route != "" {
		return route
	}
	return path
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
