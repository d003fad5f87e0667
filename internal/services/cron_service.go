package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService schedules the periodic sweeps
type CronService struct {
	cron     *cron.Cron
	sweepSvc *SweepService
	logger   *logrus.Logger
	timeout  time.Duration
}

// NewCronService creates a new CronService
func NewCronService(sweepSvc *SweepService, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:     cron.New(),
		sweepSvc: sweepSvc,
		logger:   logger,
		timeout:  5 * time.Minute,
	}
}

// Start registers and starts the sweep jobs
func (s *CronService) Start() error {
	// Completed sweep hourly, on the hour. A booking whose end date passes
	// is therefore completed within the hour.
	if _, err := s.cron.AddFunc("0 * * * *", s.completedSweepJob); err != nil {
		return fmt.Errorf("failed to schedule completed sweep: %w", err)
	}

	// Pending reconciliation every 10 minutes
	if _, err := s.cron.AddFunc("*/10 * * * *", s.pendingReconcileJob); err != nil {
		return fmt.Errorf("failed to schedule pending reconciliation: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) completedSweepJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	count, err := s.sweepSvc.SweepCompleted(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Completed sweep failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"completed": count,
		"duration":  time.Since(started).String(),
	}).Debug("Completed sweep ran")
}

func (s *CronService) pendingReconcileJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	count, err := s.sweepSvc.ReconcilePending(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Pending reconciliation failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"changed":  count,
		"duration": time.Since(started).String(),
	}).Debug("Pending reconciliation ran")
}

// JobStatus reports the scheduler state for the ops endpoint
func (s *CronService) JobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
