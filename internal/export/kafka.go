// Package export ships labeled feedback records to the retraining pipeline.
// The core owns only the labeled-record store; the training pipeline is an
// external Kafka consumer.
package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/models"
)

// FeedbackStore is the slice of the feedback repository the exporter needs.
type FeedbackStore interface {
	PendingFeedback(ctx context.Context, minSamples int) ([]*models.FeedbackRecord, error)
	MarkUsed(ctx context.Context, transactionIDs []string) error
}

// FeedbackPublisher publishes one record durably before the store marks it
// used.
type FeedbackPublisher interface {
	Publish(record *models.FeedbackRecord) error
}

// KafkaPublisher publishes feedback records to the retraining topic.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher creates a synchronous Kafka producer. Sync because a
// record must be durably published before mark_used flips its flag.
func NewKafkaPublisher(cfg configs.KafkaConfig) (*KafkaPublisher, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.FeedbackTopic).Msg("Kafka publisher initialized")

	return &KafkaPublisher{
		producer: producer,
		topic:    cfg.FeedbackTopic,
	}, nil
}

// Publish sends one feedback record, keyed by transaction id so records for
// the same transaction land in order.
func (p *KafkaPublisher) Publish(record *models.FeedbackRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback record: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(record.TransactionID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to publish feedback record: %w", err)
	}
	return nil
}

// Close closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Exporter drains pending feedback batches into Kafka and marks the
// published rows as used. Rows that fail to publish stay pending for the
// next run.
type Exporter struct {
	store      FeedbackStore
	publisher  FeedbackPublisher
	minSamples int
}

// NewExporter creates a retraining exporter.
func NewExporter(store FeedbackStore, publisher FeedbackPublisher, minSamples int) *Exporter {
	return &Exporter{
		store:      store,
		publisher:  publisher,
		minSamples: minSamples,
	}
}

// RunOnce exports one batch. Returns the number of records exported.
func (e *Exporter) RunOnce(ctx context.Context) (int, error) {
	records, err := e.store.PendingFeedback(ctx, e.minSamples)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending feedback: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	var published []string
	for _, record := range records {
		if err := e.publisher.Publish(record); err != nil {
			log.Error().Err(err).
				Str("transaction_id", record.TransactionID).
				Msg("Failed to publish feedback record, leaving pending")
			continue
		}
		published = append(published, record.TransactionID)
	}

	if len(published) == 0 {
		return 0, nil
	}

	if err := e.store.MarkUsed(ctx, published); err != nil {
		// Published but not marked: the next run re-publishes them. The
		// training pipeline dedupes on transaction id, so duplication is
		// preferred over loss.
		return len(published), fmt.Errorf("failed to mark feedback as used: %w", err)
	}

	log.Info().Int("count", len(published)).Msg("Feedback batch exported for retraining")
	return len(published), nil
}
