package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"httpclient-processor/internal/config"
	"httpclient-processor/internal/model"
	"httpclient-processor/internal/pipeline"
)

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisSource subscribes to a pub/sub channel and emits every envelope
// published on it.
type RedisSource struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisSource creates a RedisSource. No connection is made until Run.
func NewRedisSource(cfg config.RedisConfig, logger *slog.Logger) *RedisSource {
	return &RedisSource{
		client:  newRedisClient(cfg),
		channel: cfg.Channel,
		logger:  logger.With("component", "redis_source"),
	}
}

// Run subscribes and blocks until ctx is canceled or the subscription fails.
func (s *RedisSource) Run(ctx context.Context, emit pipeline.EmitFunc) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %q: %w", s.channel, err)
	}
	s.logger.Info("subscribed", "channel", s.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.deliver(ctx, msg.Payload, emit); err != nil {
				return err
			}
		}
	}
}

// deliver decodes one published payload. Undecodable payloads are dropped.
func (s *RedisSource) deliver(ctx context.Context, raw string, emit pipeline.EmitFunc) error {
	msg, err := decodeEnvelope([]byte(raw))
	if err != nil {
		s.logger.Warn("dropping undecodable message", "channel", s.channel, "err", err)
		return nil
	}
	return emit(ctx, msg)
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}

// publisher is the subset of *redis.Client used by RedisSink.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisSink publishes outbound messages as JSON envelopes.
type RedisSink struct {
	client  publisher
	channel string
	logger  *slog.Logger
}

// NewRedisSink creates a RedisSink.
func NewRedisSink(cfg config.RedisConfig, logger *slog.Logger) *RedisSink {
	return newRedisSink(newRedisClient(cfg), cfg.Channel, logger)
}

func newRedisSink(client publisher, channel string, logger *slog.Logger) *RedisSink {
	return &RedisSink{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_sink"),
	}
}

func (s *RedisSink) Push(ctx context.Context, out *model.Outbound) error {
	data, err := encodeEnvelope(out)
	if err != nil {
		return err
	}
	receivers, err := s.client.Publish(ctx, s.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish to %q: %w", s.channel, err)
	}
	s.logger.Debug("published", "message_id", out.ID, "channel", s.channel, "receivers", receivers)
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
