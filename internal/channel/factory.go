package channel

import (
	"fmt"
	"log/slog"

	"httpclient-processor/internal/config"
	"httpclient-processor/internal/pipeline"
)

// NewSource builds the configured source. It returns a nil Source for kind
// "none".
func NewSource(cfg *config.Config, logger *slog.Logger) (pipeline.Source, error) {
	switch cfg.Source.Kind {
	case "", config.KindNone:
		return nil, nil
	case config.KindRedis:
		return NewRedisSource(cfg.Source.Redis, logger), nil
	case config.KindKafka:
		src, err := NewKafkaSource(cfg.Source.Kafka, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

// NewSink builds the configured sink.
func NewSink(cfg *config.Config, logger *slog.Logger) (pipeline.Sink, error) {
	switch cfg.Sink.Kind {
	case "", config.KindLog:
		return NewLogSink(logger), nil
	case config.KindRedis:
		return NewRedisSink(cfg.Sink.Redis, logger), nil
	case config.KindKafka:
		sink, err := NewKafkaSink(cfg.Sink.Kafka, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
}
