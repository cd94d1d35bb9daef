package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bryanchriswhite/riverwatch/internal/config"
)

const defaultRedisStream = "riverwatch:alarms"

// RedisSink appends alarms to a capped Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink creates the client. Connections are made lazily.
func NewRedisSink(cfg config.RedisConfig) *RedisSink {
	stream := cfg.Stream
	if stream == "" {
		stream = defaultRedisStream
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisSink{client: client, stream: stream, maxLen: cfg.MaxLen}
}

// Name returns the sink name
func (s *RedisSink) Name() string {
	return TypeRedis
}

// Ping checks connectivity.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Send XADDs msg, trimming the stream to roughly maxLen entries.
func (s *RedisSink) Send(ctx context.Context, msg *Message) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"alarm_id":   msg.Payload.AlarmID,
			"video_id":   msg.Payload.VideoID,
			"scene_type": msg.Payload.SceneType,
			"body":       msg.Body,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	return nil
}

// Close closes the client
func (s *RedisSink) Close() error {
	return s.client.Close()
}
