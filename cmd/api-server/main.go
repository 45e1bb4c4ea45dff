package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/analytics"
	"github.com/trustpay/screening-engine/internal/auth"
	"github.com/trustpay/screening-engine/internal/classifier"
	"github.com/trustpay/screening-engine/internal/detectors"
	"github.com/trustpay/screening-engine/internal/metrics"
	"github.com/trustpay/screening-engine/internal/models"
	"github.com/trustpay/screening-engine/internal/queue"
	"github.com/trustpay/screening-engine/internal/repositories"
	"github.com/trustpay/screening-engine/internal/scoring"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg, err := configs.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting screening engine API server")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis
	streamClient, err := queue.NewReviewStreamClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis cache")
	}
	defer cacheClient.Close()

	// Initialize repositories
	reviewRepo := repositories.NewReviewQueueRepository(db)
	feedbackRepo := repositories.NewFeedbackRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Load models and build the pipeline
	screening := cfg.Screening
	registry := classifier.NewRegistry(screening.Current().ModelDir)
	if registry.ReadyCount() < 4 && !screening.Current().AllowDegraded {
		log.Fatal().Int("loaded", registry.ReadyCount()).Msg("Model artifacts missing and degraded mode disallowed")
	}

	dets := detectors.All(registry)
	explainer := scoring.NewExplainer(registry)
	coordinator := scoring.NewCoordinator(dets, screening, reviewRepo, cacheClient, auditRepo, streamClient, explainer)
	backtestService := scoring.NewBacktestService(dets, screening, reviewRepo)
	analyticsService := analytics.NewAnalyticsService(db, reviewRepo, feedbackRepo)
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	// Rate limiting: 300 requests per minute per IP
	rateLimiter := NewRateLimiter(300, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	setupRoutes(router, cfg, jwtManager, coordinator, reviewRepo, auditRepo, analyticsService, backtestService, registry, streamClient, db)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(
	router *gin.Engine,
	cfg *configs.Config,
	jwtManager *auth.JWTManager,
	coordinator *scoring.Coordinator,
	reviewRepo *repositories.ReviewQueueRepository,
	auditRepo *repositories.AuditRepository,
	analyticsService *analytics.AnalyticsService,
	backtestService *scoring.BacktestService,
	registry *classifier.Registry,
	streamClient *queue.ReviewStreamClient,
	db *repositories.Database,
) {
	router.GET("/health", healthHandler(coordinator, db, streamClient))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// Scoring endpoint is called by the payment client, not analysts.
	v1.POST("/score", scoreHandler(coordinator))

	// Analyst endpoints
	reviews := v1.Group("/reviews")
	reviews.Use(auth.AuthMiddleware(jwtManager))
	reviews.Use(auth.RoleMiddleware(auth.RoleAnalyst, auth.RoleAdmin))
	{
		reviews.GET("", listReviewsHandler(reviewRepo))
		reviews.GET("/stats", reviewStatsHandler(reviewRepo))
		reviews.GET("/:transaction_id", getReviewHandler(reviewRepo))
		reviews.POST("/:transaction_id/decision", submitReviewHandler(cfg, reviewRepo, auditRepo, streamClient))
	}

	analyticsRoutes := v1.Group("/analytics")
	analyticsRoutes.Use(auth.AuthMiddleware(jwtManager))
	analyticsRoutes.Use(auth.RoleMiddleware(auth.RoleAnalyst, auth.RoleAdmin))
	{
		analyticsRoutes.GET("/summary", analyticsSummaryHandler(analyticsService))
	}

	backtestRoutes := v1.Group("/backtest")
	backtestRoutes.Use(auth.AuthMiddleware(jwtManager))
	backtestRoutes.Use(auth.RoleMiddleware(auth.RoleAnalyst, auth.RoleAdmin))
	{
		backtestRoutes.POST("/run", runBacktestHandler(backtestService))
	}

	// Admin endpoints: hot swap of models and screening config
	admin := v1.Group("/admin")
	admin.Use(auth.AuthMiddleware(jwtManager))
	admin.Use(auth.RoleMiddleware(auth.RoleAdmin))
	{
		admin.POST("/models/reload", reloadModelsHandler(cfg, registry, auditRepo))
		admin.POST("/config/reload", reloadConfigHandler(cfg, auditRepo))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter implements a simple in-memory token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	now := time.Now()

	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastSeen: now}
		return true
	}

	elapsed := now.Sub(v.lastSeen)
	refill := int(elapsed / (rl.window / time.Duration(rl.rate)))
	v.tokens += refill
	if v.tokens > rl.rate {
		v.tokens = rl.rate
	}
	v.lastSeen = now

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Handlers

func scoreHandler(coordinator *scoring.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		if req.TransactionType == "" {
			req.TransactionType = models.TypePay
		}

		resp, err := coordinator.Score(c.Request.Context(), &req, c.GetString("request_id"))
		if err != nil {
			if errors.Is(err, scoring.ErrInvalidRequest) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func listReviewsHandler(reviewRepo *repositories.ReviewQueueRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := getIntParam(c, "limit", 50)

		var (
			entries []*models.ReviewQueueEntry
			err     error
		)
		if c.Query("overdue") == "true" {
			entries, err = reviewRepo.ListOverdue(c.Request.Context(), time.Now())
		} else {
			entries, err = reviewRepo.ListPending(c.Request.Context(), limit)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
			return
		}
		if entries == nil {
			entries = []*models.ReviewQueueEntry{}
		}

		c.JSON(http.StatusOK, gin.H{"reviews": entries, "count": len(entries)})
	}
}

func getReviewHandler(reviewRepo *repositories.ReviewQueueRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := reviewRepo.GetByTransactionID(c.Request.Context(), c.Param("transaction_id"))
		if err != nil {
			if errors.Is(err, repositories.ErrReviewNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
			return
		}

		c.JSON(http.StatusOK, entry)
	}
}

func reviewStatsHandler(reviewRepo *repositories.ReviewQueueRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		pending, err := reviewRepo.CountPending(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
			return
		}
		overdue, err := reviewRepo.ListOverdue(c.Request.Context(), time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
			return
		}

		metrics.PendingReviews.Set(float64(pending))

		c.JSON(http.StatusOK, gin.H{
			"pending": pending,
			"overdue": len(overdue),
		})
	}
}

type submitReviewRequest struct {
	Decision     string `json:"decision" binding:"required,oneof=APPROVE REJECT ESCALATE"`
	FeedbackText string `json:"feedback_text"`
}

func submitReviewHandler(
	cfg *configs.Config,
	reviewRepo *repositories.ReviewQueueRepository,
	auditRepo *repositories.AuditRepository,
	streamClient *queue.ReviewStreamClient,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}

		analystID, ok := auth.GetAnalystIDFromContext(c)
		if !ok || analystID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		transactionID := c.Param("transaction_id")
		warnThreshold := cfg.Screening.Current().WarnThreshold

		// Transient storage failures are retried with backoff; the submit runs
		// in one transaction, so a failed attempt leaves nothing behind.
		record, err := reviewRepo.SubmitDecision(c.Request.Context(), transactionID, analystID, req.Decision, req.FeedbackText, warnThreshold)
		for _, wait := range []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 800 * time.Millisecond} {
			if err == nil || c.Request.Context().Err() != nil ||
				errors.Is(err, repositories.ErrReviewNotFound) || errors.Is(err, repositories.ErrAlreadyReviewed) {
				break
			}
			time.Sleep(wait)
			record, err = reviewRepo.SubmitDecision(c.Request.Context(), transactionID, analystID, req.Decision, req.FeedbackText, warnThreshold)
		}
		if err != nil {
			switch {
			case errors.Is(err, repositories.ErrReviewNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			case errors.Is(err, repositories.ErrAlreadyReviewed):
				c.JSON(http.StatusConflict, gin.H{"error": "already_reviewed"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
			}
			return
		}

		// Best-effort notification and audit; the decision itself is durable.
		entry, lookupErr := reviewRepo.GetByTransactionID(c.Request.Context(), transactionID)
		if lookupErr == nil {
			_ = streamClient.PublishReviewEvent(c.Request.Context(), &models.ReviewEvent{
				EventType:     "resolved",
				TransactionID: transactionID,
				ReviewID:      entry.ID.String(),
				Priority:      entry.Priority,
				TrustScore:    entry.TrustScore,
				SLADeadline:   entry.SLADeadline,
				Timestamp:     time.Now(),
			})
		}
		auditErr := auditRepo.Record(c.Request.Context(), &models.AuditLog{
			EventType:  models.AuditEventReview,
			EntityID:   transactionID,
			EntityType: "review",
			Action:     req.Decision,
			RequestID:  c.GetString("request_id"),
			Payload: models.JSONB{
				"analyst_id":        analystID,
				"model_was_correct": record.ModelWasCorrect,
			},
		})
		if auditErr != nil {
			log.Warn().Err(auditErr).Str("transaction_id", transactionID).Msg("Failed to audit review decision")
		}

		c.JSON(http.StatusOK, gin.H{
			"transaction_id":    transactionID,
			"decision":          record.AnalystDecision,
			"correct_label":     record.CorrectLabel,
			"model_was_correct": record.ModelWasCorrect,
		})
	}
}

func analyticsSummaryHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)

		summary, err := analyticsService.GetSummary(c.Request.Context(), time.Duration(days)*24*time.Hour)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

func runBacktestHandler(backtestService *scoring.BacktestService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req scoring.BacktestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}

		if req.SampleSize == 0 {
			req.SampleSize = 100
		}
		if req.Since.IsZero() {
			req.Since = time.Now().AddDate(0, 0, -30)
		}

		result, err := backtestService.Run(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func reloadModelsHandler(cfg *configs.Config, registry *classifier.Registry, auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelDir := cfg.Screening.Current().ModelDir
		loaded := registry.ReloadFrom(modelDir)

		_ = auditRepo.Record(c.Request.Context(), &models.AuditLog{
			EventType:  models.AuditEventModelReload,
			EntityID:   modelDir,
			EntityType: "model_registry",
			Action:     "reload",
			RequestID:  c.GetString("request_id"),
			Payload:    models.JSONB{"loaded": loaded},
		})

		c.JSON(http.StatusOK, gin.H{"loaded": loaded, "model_dir": modelDir})
	}
}

func reloadConfigHandler(cfg *configs.Config, auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		updated, err := cfg.Screening.Reload()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "configuration_error", "message": err.Error()})
			return
		}

		_ = auditRepo.Record(c.Request.Context(), &models.AuditLog{
			EventType:  models.AuditEventConfigReload,
			EntityID:   "screening",
			EntityType: "config",
			Action:     "reload",
			RequestID:  c.GetString("request_id"),
			Payload: models.JSONB{
				"allow_threshold": updated.AllowThreshold,
				"warn_threshold":  updated.WarnThreshold,
				"hitl_enabled":    updated.HITLEnabled,
			},
		})

		c.JSON(http.StatusOK, gin.H{
			"allow_threshold": updated.AllowThreshold,
			"warn_threshold":  updated.WarnThreshold,
			"hitl_enabled":    updated.HITLEnabled,
		})
	}
}

func healthHandler(coordinator *scoring.Coordinator, db *repositories.Database, streamClient *queue.ReviewStreamClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		storageOK := db.HealthCheck(ctx) == nil && streamClient.HealthCheck(ctx) == nil
		detectorsOK := coordinator.IsHealthy()
		healthy := storageOK && detectorsOK

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"healthy":            healthy,
			"storage":            storageOK,
			"detectors":          detectorsOK,
			"degraded_detectors": coordinator.DegradedDetectors(),
			"timestamp":          time.Now().Format(time.RFC3339),
		})
	}
}

// Helper functions

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}
