// The exporter stages labeled feedback for model retraining: it drains
// pending feedback batches into the Kafka feedback topic and marks the
// published rows as used. The training pipeline is an external consumer of
// that topic.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/export"
	"github.com/trustpay/screening-engine/internal/repositories"
)

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

	interval := 5 * time.Minute
	if v := os.Getenv("EXPORT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			interval = d
		}
	}
	minSamples := 50
	if v := os.Getenv("EXPORT_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			minSamples = n
		}
	}

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	publisher, err := export.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka publisher")
	}
	defer publisher.Close()

	exporter := export.NewExporter(repositories.NewFeedbackRepository(db), publisher, minSamples)

	log.Info().
		Dur("interval", interval).
		Int("min_samples", minSamples).
		Msg("Feedback exporter started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info().Msg("Exporter stopping")
			return
		case <-ticker.C:
			exported, err := exporter.RunOnce(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Export run failed")
				continue
			}
			if exported > 0 {
				log.Info().Int("exported", exported).Msg("Export run completed")
			}
		}
	}
}
