// Package queue provides the Redis-backed review event stream and the
// decision cache.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/models"
)

// ReviewStreamClient publishes review-queue activity to a Redis Stream for
// dashboards and the SLA monitor.
type ReviewStreamClient struct {
	client     *redis.Client
	streamName string
}

// NewReviewStreamClient creates a new review stream client.
func NewReviewStreamClient(cfg configs.RedisConfig) (*ReviewStreamClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("stream", cfg.ReviewStream).Msg("Review stream client initialized")

	return &ReviewStreamClient{
		client:     client,
		streamName: cfg.ReviewStream,
	}, nil
}

// PublishReviewEvent appends an event to the review stream.
func (r *ReviewStreamClient) PublishReviewEvent(ctx context.Context, event *models.ReviewEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msgID, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamName,
		Values: map[string]interface{}{
			"data": string(eventJSON),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("message_id", msgID).
		Str("transaction_id", event.TransactionID).
		Str("event_type", event.EventType).
		Msg("Review event published")

	return nil
}

// ReadRecent returns the most recent events on the stream, newest first.
func (r *ReviewStreamClient) ReadRecent(ctx context.Context, count int64) ([]*models.ReviewEvent, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.streamName, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	var events []*models.ReviewEvent
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var event models.ReviewEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to parse review event")
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

// HealthCheck pings Redis.
func (r *ReviewStreamClient) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *ReviewStreamClient) Close() error {
	return r.client.Close()
}

// CacheClient memoizes scoring responses by transaction id. A repeat score
// of a known transaction returns the original response, preserving the
// review id across client retries.
type CacheClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheClient creates a new decision cache client.
func NewCacheClient(cfg configs.RedisConfig) (*CacheClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{client: client, ttl: cfg.DecisionTTL}, nil
}

func decisionKey(transactionID string) string {
	return fmt.Sprintf("decision:%s", transactionID)
}

// GetResponse retrieves a cached scoring response. A miss is (nil, nil).
func (c *CacheClient) GetResponse(ctx context.Context, transactionID string) (*models.ScoreResponse, error) {
	data, err := c.client.Get(ctx, decisionKey(transactionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var resp models.ScoreResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetResponse caches a scoring response with the configured TTL.
func (c *CacheClient) SetResponse(ctx context.Context, transactionID string, resp *models.ScoreResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, decisionKey(transactionID), data, c.ttl).Err()
}

// Close closes the cache client.
func (c *CacheClient) Close() error {
	return c.client.Close()
}
