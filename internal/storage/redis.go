package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CacheTTL is the time-to-live for cached upload metadata
	CacheTTL = 5 * time.Minute

	channelPrefix = "realtime:"
)

// RedisClient caches upload metadata and carries the realtime change feed
type RedisClient struct {
	client *redis.Client
	logger logging.Logger
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(ctx context.Context, logger logging.Logger, addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{client: client, logger: logger}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func uploadKey(transferID string) string {
	return "upload:" + transferID
}

// GetUpload retrieves upload metadata from cache. A miss returns (nil, nil).
func (rc *RedisClient) GetUpload(ctx context.Context, transferID string) (*models.FileUpload, error) {
	ctx, span := tracer.Start(ctx, "redis.get_upload",
		trace.WithAttributes(attribute.String("transfer_id", transferID)),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, uploadKey(transferID)).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.String("cache_status", "miss"))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var u models.FileUpload
	if err := json.Unmarshal(data, &u); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(attribute.String("cache_status", "hit"))
	return &u, nil
}

// SetUpload stores upload metadata in cache
func (rc *RedisClient) SetUpload(ctx context.Context, u *models.FileUpload) error {
	ctx, span := tracer.Start(ctx, "redis.set_upload",
		trace.WithAttributes(attribute.String("transfer_id", u.TransferID)),
	)
	defer span.End()

	data, err := json.Marshal(u)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal upload: %w", err)
	}

	if err := rc.client.Set(ctx, uploadKey(u.TransferID), data, CacheTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// InvalidateUpload removes upload metadata from cache
func (rc *RedisClient) InvalidateUpload(ctx context.Context, transferID string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_upload",
		trace.WithAttributes(attribute.String("transfer_id", transferID)),
	)
	defer span.End()

	if err := rc.client.Del(ctx, uploadKey(transferID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// Publish broadcasts ev on the channel of its table
func (rc *RedisClient) Publish(ctx context.Context, ev models.ChangeEvent) error {
	ctx, span := tracer.Start(ctx, "redis.publish",
		trace.WithAttributes(
			attribute.String("table", ev.Table),
			attribute.String("type", string(ev.Type)),
		),
	)
	defer span.End()

	data, err := json.Marshal(ev)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := rc.client.Publish(ctx, channelPrefix+ev.Table, data).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Subscribe listens for change events of table. The subscription is live
// once Subscribe returns.
func (rc *RedisClient) Subscribe(ctx context.Context, table string) (Subscription, error) {
	pubsub := rc.client.Subscribe(ctx, channelPrefix+table)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", table, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan models.ChangeEvent, 16),
		done:   make(chan struct{}),
	}
	go sub.run(ctx, rc.logger)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan models.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) run(ctx context.Context, logger logging.Logger) {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var ev models.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Warn(ctx, "dropping malformed change event", "channel", msg.Channel, "error", err)
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Events() <-chan models.ChangeEvent {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
