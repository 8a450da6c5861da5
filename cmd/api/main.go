package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	_ "github.com/joho/godotenv/autoload"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/retailops/installment-api/docs" // Swagger docs
	"github.com/retailops/installment-api/internal/config"
	"github.com/retailops/installment-api/internal/database"
	"github.com/retailops/installment-api/internal/handlers"
	"github.com/retailops/installment-api/internal/jobs"
	"github.com/retailops/installment-api/internal/middleware"
	"github.com/retailops/installment-api/internal/repository"
	"github.com/retailops/installment-api/internal/services"
	"github.com/retailops/installment-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// @title Installment Financing API
// @version 1.0
// @description REST API for flat-interest installment plans, payment recording and plan modifications

// @contact.name API Support

// @host localhost:8080
// @BasePath /api/v1
// @schemes http
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Setup(cfg.Environment)

	// Initialize Sentry when DSN is configured
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		}); err != nil {
			logger.Error("Sentry initialization failed", "error", err)
		} else {
			logger.Info("Sentry initialized")
		}
	}

	if cfg.EnableEmailNotifications && cfg.FromEmail == "" {
		logger.Warn("Email notifications enabled but FROM_EMAIL not set. Ensure the From domain is verified in Resend.")
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to database")

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Initialize background worker
	worker := jobs.NewWorker(cfg.WorkerCount)
	logger.Info("Started background worker", "goroutines", cfg.WorkerCount)

	// Initialize services
	svcs := services.NewServices(repos, worker, cfg, db)

	// Schedule recurring jobs
	scheduleJobs(worker, svcs)

	// Initialize handlers
	h := handlers.NewHandlers(svcs, worker)

	// Setup router
	router := setupRouter(h, cfg)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	worker.Shutdown()
	logger.Info("Background worker stopped")

	if cfg.SentryDSN != "" {
		sentry.Flush(5 * time.Second)
	}

	logger.Info("Server exited gracefully")
}

func setupRouter(h *handlers.Handlers, cfg *config.Config) *gin.Engine {
	router := gin.New()

	// Global middleware
	if cfg.SentryDSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Redirect root to swagger
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Health check
		v1.GET("/health", h.Health.Index)

		// Installment plans
		plans := v1.Group("/plans")
		{
			plans.GET("", h.Plan.Index)
			plans.POST("", h.Plan.Create)
			plans.GET("/:plan_id", h.Plan.Show)
			plans.POST("/:plan_id/payments", h.Plan.RecordPayment)
			plans.POST("/:plan_id/cancel", h.Plan.Cancel)
			plans.POST("/:plan_id/default", h.Plan.MarkDefaulted)

			// Static route first so "preview" is not matched as a modification id
			plans.POST("/:plan_id/modifications/preview", h.Modification.Preview)
			plans.POST("/:plan_id/modifications", h.Modification.Create)
			plans.GET("/:plan_id/modifications", h.Modification.Index)
		}

		// Modification workflow
		modifications := v1.Group("/modifications")
		{
			modifications.GET("/:modification_id", h.Modification.Show)
			modifications.POST("/:modification_id/approve", h.Modification.Approve)
			modifications.POST("/:modification_id/reject", h.Modification.Reject)
			modifications.POST("/:modification_id/apply", h.Modification.Apply)
		}

		// Customer notifications
		customers := v1.Group("/customers/:customer_id")
		{
			customers.GET("/notifications", h.Notification.Index)
			customers.POST("/notifications/read_all", h.Notification.MarkAllAsRead)
		}
		v1.POST("/notifications/:notification_id/read", h.Notification.MarkAsRead)
	}

	return router
}

func scheduleJobs(worker *jobs.Worker, svcs *services.Services) {
	// Refresh overdue statuses hourly, including once right after startup so a
	// restarted process catches up immediately.
	worker.ScheduleEveryImmediate(1*time.Hour, func(ctx context.Context) error {
		logger.Info("[Job] Refreshing overdue plan statuses...")
		return svcs.Plan.RefreshOverdueStatuses(ctx)
	})

	logger.Info("Scheduled recurring jobs")
}
