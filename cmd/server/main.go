package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/config"
	"github.com/driveshare/reservation-backend/internal/database"
	"github.com/driveshare/reservation-backend/internal/events"
	"github.com/driveshare/reservation-backend/internal/handlers"
	"github.com/driveshare/reservation-backend/internal/middleware"
	"github.com/driveshare/reservation-backend/internal/payment"
	"github.com/driveshare/reservation-backend/internal/services"
	"github.com/driveshare/reservation-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting DriveShare Reservation Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Redis backs the PayPal token cache; optional in development
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable, token cache will be process-local")
		}
		cancel()
	}

	// Domain event publisher
	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		logger.WithField("topic", cfg.Kafka.Topic).Info("Kafka event publisher enabled")
	} else {
		publisher = events.NewLogPublisher(logger)
		logger.Info("No Kafka brokers configured, domain events are log-only")
	}
	defer publisher.Close()

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, 24*time.Hour)

	bookingRepo := database.NewBookingRepository(db, logger)
	sessionRepo := database.NewPaymentSessionRepository(db)
	vehicleRepo := database.NewVehicleRepository(db)

	// Payment gateways
	tokenCache := payment.NewTokenCache(rdb, "paypal:access_token", logger)
	registry := payment.NewRegistry(
		payment.NewStripeGateway(&cfg.Stripe, logger),
		payment.NewPayPalGateway(&cfg.PayPal, tokenCache, logger),
	)
	logger.WithField("providers", registry.Names()).Info("Payment gateways registered")

	reservationService := services.NewReservationService(bookingRepo, vehicleRepo, sessionRepo, registry, publisher, logger)
	webhookService := services.NewWebhookService(bookingRepo, sessionRepo, sessionRepo, registry, publisher, logger)
	sweepService := services.NewSweepService(bookingRepo, sessionRepo, registry, publisher, logger, cfg.Sweep.PendingTimeout, cfg.Sweep.AbandonAfter)

	// Start the sweep scheduler unless this instance is API-only
	var cronService *services.CronService
	if cfg.Sweep.Enabled {
		cronService = services.NewCronService(sweepService, logger)
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	} else {
		logger.Info("Sweeps disabled on this instance")
	}

	logger.Info("Services initialized")

	// Initialize handlers
	reservationHandler := handlers.NewReservationHandler(reservationService, logger)
	webhookHandler := handlers.NewWebhookHandler(webhookService, logger)
	vehicleHandler := handlers.NewVehicleHandler(vehicleRepo, logger)
	sweepHandler := handlers.NewSweepHandler(sweepService, cronService, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Provider webhooks are authenticated by signature, not by JWT.
		// With Redis available they are also rate limited per client IP.
		webhook := []gin.HandlerFunc{webhookHandler.HandleCallback}
		if rdb != nil {
			limiter := middleware.RateLimit(middleware.NewRedisHitCounter(rdb), 120, time.Minute, logger)
			webhook = append([]gin.HandlerFunc{limiter}, webhook...)
		}
		v1.POST("/payments/:provider/webhook", webhook...)

		// Reservation routes (all protected)
		reservations := v1.Group("/reservations")
		reservations.Use(middleware.AuthMiddleware(jwtService))
		{
			reservations.POST("", reservationHandler.CreateReservation)
			reservations.GET("/:id", reservationHandler.GetReservation)
			reservations.DELETE("/:id", reservationHandler.CancelReservation)
			reservations.POST("/:id/payment-session", reservationHandler.OpenPaymentSession)
			reservations.GET("/:id/audits", reservationHandler.GetAuditTrail)
		}

		// Vehicle routes
		vehicles := v1.Group("/vehicles")
		{
			// Public availability lookup
			vehicles.GET("/:id/availability", reservationHandler.CheckAvailability)
			vehicles.GET("/:id", vehicleHandler.GetVehicle)

			// Protected host routes
			vehiclesProtected := vehicles.Group("")
			vehiclesProtected.Use(middleware.AuthMiddleware(jwtService))
			{
				vehiclesProtected.POST("", vehicleHandler.CreateVehicle)
				vehiclesProtected.GET("/mine", vehicleHandler.ListMyVehicles)
				vehiclesProtected.PATCH("/:id", vehicleHandler.UpdateVehicle)
			}
		}
	}

	// Operational endpoints, restricted to the ops role
	ops := router.Group("/internal/sweeps")
	ops.Use(middleware.AuthMiddleware(jwtService), middleware.RequireRole("ops"))
	{
		ops.POST("/completed", sweepHandler.RunCompletedSweep)
		ops.POST("/pending", sweepHandler.RunPendingReconcile)
		ops.GET("/status", sweepHandler.JobStatus)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if cronService != nil {
		cronService.Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}

		if userCtx, exists := middleware.GetUserContext(c); exists {
			fields["user_id"] = userCtx.UserID
		}

		entry := logger.WithFields(fields)

		status := c.Writer.Status()
		switch {
		case len(c.Errors) > 0:
			entry.WithField("errors", c.Errors.String()).Error("Request failed with errors")
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
