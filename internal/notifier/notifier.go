package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"streamrelay/internal/config"
	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// ErrDisabled is returned by the no-op publisher's Watch
var ErrDisabled = errors.New("status notifier disabled")

// RedisPublisher appends stream status events to a Redis stream so services
// outside the relay can follow producers going online and offline
type RedisPublisher struct {
	logger     *zap.Logger
	client     redis.UniversalClient
	streamName string
	maxLen     int64
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(cfg *config.RedisConfig, logger *zap.Logger) (*RedisPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    splitAddrs(cfg.Addr),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPublisher{
		logger:     logger.Named("notifier.redis"),
		client:     client,
		streamName: cfg.Stream,
		maxLen:     cfg.MaxLen,
	}, nil
}

// PublishStatus implements interfaces.StatusPublisher
func (r *RedisPublisher) PublishStatus(ctx context.Context, event *types.StatusMessage) error {
	if event == nil {
		return nil
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamName,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"streamId":  event.StreamID,
			"status":    string(event.Status),
			"timestamp": event.Timestamp,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add status to stream: %w", err)
	}
	r.logger.Debug("status published", zap.String("stream_id", event.StreamID),
		zap.String("status", string(event.Status)), zap.String("message_id", id))
	return nil
}

// Watch follows new status events from the moment it is called
func (r *RedisPublisher) Watch(ctx context.Context) (<-chan *types.StatusMessage, error) {
	ch := make(chan *types.StatusMessage, 10)

	go func() {
		defer close(ch)
		lastID := "$"

		for ctx.Err() == nil {
			streams, err := r.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{r.streamName, lastID},
				Count:   10,
				Block:   time.Second,
			}).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					r.logger.Error("failed to read from stream", zap.Error(err))
				}
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					lastID = message.ID
					event, err := decodeStatus(message.Values)
					if err != nil {
						r.logger.Warn("skipping malformed status entry", zap.String("message_id", message.ID), zap.Error(err))
						continue
					}
					select {
					case ch <- event:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

// Close releases the Redis connection pool
func (r *RedisPublisher) Close() error {
	return r.client.Close()
}

func decodeStatus(values map[string]interface{}) (*types.StatusMessage, error) {
	streamID, _ := values["streamId"].(string)
	status, _ := values["status"].(string)
	if streamID == "" || status == "" {
		return nil, fmt.Errorf("missing streamId or status")
	}
	event := types.NewStatus(streamID, types.StreamStatus(status))
	if raw, ok := values["timestamp"].(string); ok {
		var ts int64
		if err := json.Unmarshal([]byte(raw), &ts); err == nil {
			event.Timestamp = ts
		}
	}
	return event, nil
}

func splitAddrs(addr string) []string {
	parts := strings.FieldsFunc(addr, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Nop discards every event; used when Redis is disabled
type Nop struct{}

func (Nop) PublishStatus(ctx context.Context, event *types.StatusMessage) error { return nil }

func (Nop) Watch(ctx context.Context) (<-chan *types.StatusMessage, error) { return nil, ErrDisabled }

func (Nop) Close() error { return nil }

var (
	_ interfaces.StatusPublisher = (*RedisPublisher)(nil)
	_ interfaces.StatusPublisher = Nop{}
)
