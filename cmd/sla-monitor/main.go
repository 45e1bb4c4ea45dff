// The sla-monitor watches the review queue for entries past their SLA
// deadline, escalates their priority one step, and announces the breach on
// the review stream.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/models"
	"github.com/trustpay/screening-engine/internal/queue"
	"github.com/trustpay/screening-engine/internal/repositories"
)

var escalation = map[string]string{
	models.PriorityLow:    models.PriorityMedium,
	models.PriorityMedium: models.PriorityHigh,
	models.PriorityHigh:   models.PriorityCritical,
}

func main() {
	_ = godotenv.Load()

	cfg, err := configs.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Server.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	interval := 30 * time.Second
	if v := os.Getenv("SLA_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			interval = d
		}
	}

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	streamClient, err := queue.NewReviewStreamClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis stream")
	}
	defer streamClient.Close()

	reviewRepo := repositories.NewReviewQueueRepository(db)

	log.Info().Dur("interval", interval).Msg("SLA monitor started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info().Msg("SLA monitor stopping")
			return
		case <-ticker.C:
			checkOverdue(ctx, reviewRepo, streamClient)
		}
	}
}

func checkOverdue(ctx context.Context, reviewRepo *repositories.ReviewQueueRepository, streamClient *queue.ReviewStreamClient) {
	overdue, err := reviewRepo.ListOverdue(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list overdue reviews")
		return
	}
	if len(overdue) == 0 {
		return
	}

	log.Warn().Int("count", len(overdue)).Msg("Reviews past SLA deadline")

	for _, entry := range overdue {
		next, ok := escalation[entry.Priority]
		if !ok {
			// Already CRITICAL; nothing above it, keep announcing.
			next = entry.Priority
		} else {
			if err := reviewRepo.EscalatePriority(ctx, entry.TransactionID, next); err != nil {
				log.Error().Err(err).
					Str("transaction_id", entry.TransactionID).
					Msg("Failed to escalate review priority")
				continue
			}
		}

		if err := streamClient.PublishReviewEvent(ctx, &models.ReviewEvent{
			EventType:     "escalated",
			TransactionID: entry.TransactionID,
			ReviewID:      entry.ID.String(),
			Priority:      next,
			TrustScore:    entry.TrustScore,
			SLADeadline:   entry.SLADeadline,
			Timestamp:     time.Now(),
		}); err != nil {
			log.Warn().Err(err).Str("transaction_id", entry.TransactionID).Msg("Failed to publish escalation event")
		}
	}
}
