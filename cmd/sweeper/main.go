// Command sweeper runs one pass of the background sweeps and exits.
// Meant for scheduled jobs in deployments that keep the API instances
// cron-free (SWEEP_ENABLED=false on the servers).
package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/config"
	"github.com/driveshare/reservation-backend/internal/database"
	"github.com/driveshare/reservation-backend/internal/events"
	"github.com/driveshare/reservation-backend/internal/payment"
	"github.com/driveshare/reservation-backend/internal/services"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	} else {
		publisher = events.NewLogPublisher(logger)
	}
	defer publisher.Close()

	bookingRepo := database.NewBookingRepository(db, logger)
	sessionRepo := database.NewPaymentSessionRepository(db)

	tokenCache := payment.NewTokenCache(rdb, "paypal:access_token", logger)
	registry := payment.NewRegistry(
		payment.NewStripeGateway(&cfg.Stripe, logger),
		payment.NewPayPalGateway(&cfg.PayPal, tokenCache, logger),
	)

	sweepService := services.NewSweepService(bookingRepo, sessionRepo, registry, publisher, logger, cfg.Sweep.PendingTimeout, cfg.Sweep.AbandonAfter)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	completed, err := sweepService.SweepCompleted(ctx)
	if err != nil {
		logger.WithError(err).Error("Completed sweep failed")
	}

	changed, err := sweepService.ReconcilePending(ctx)
	if err != nil {
		logger.WithError(err).Error("Pending reconciliation failed")
	}

	logger.WithFields(logrus.Fields{
		"completed": completed,
		"changed":   changed,
	}).Info("Sweep pass finished")
}
