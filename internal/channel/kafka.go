package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"httpclient-processor/internal/config"
	"httpclient-processor/internal/model"
	"httpclient-processor/internal/pipeline"
)

const (
	headerContentType = "content-type"
	contentTypeJSON   = "application/json"
)

func saramaConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("kafka version: %w", err)
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = "httpclient-processor"
	return sc, nil
}

// KafkaSource consumes a topic as part of a consumer group.
type KafkaSource struct {
	group  sarama.ConsumerGroup
	topic  string
	logger *slog.Logger
}

// NewKafkaSource joins the configured consumer group.
func NewKafkaSource(cfg config.KafkaConfig, logger *slog.Logger) (*KafkaSource, error) {
	sc, err := saramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc.Consumer.Return.Errors = true
	switch cfg.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %q: %w", cfg.GroupID, err)
	}
	return &KafkaSource{
		group:  group,
		topic:  cfg.Topic,
		logger: logger.With("component", "kafka_source"),
	}, nil
}

// Run consumes until ctx is canceled. Consume returns on every rebalance, so
// it is called in a loop.
func (s *KafkaSource) Run(ctx context.Context, emit pipeline.EmitFunc) error {
	go func() {
		for err := range s.group.Errors() {
			s.logger.Warn("consumer group error", "err", err)
		}
	}()

	handler := &groupHandler{emit: emit, logger: s.logger}
	for {
		if err := s.group.Consume(ctx, []string{s.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume %q: %w", s.topic, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *KafkaSource) Close() error {
	return s.group.Close()
}

type groupHandler struct {
	emit   pipeline.EmitFunc
	logger *slog.Logger
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (*groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case rec, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.emit(sess.Context(), fromRecord(rec)); err != nil {
				return err
			}
			sess.MarkMessage(rec, "")
		}
	}
}

// fromRecord maps a Kafka record onto a Message: key to ID, headers to
// headers, value to payload. JSON values are decoded when the record says so.
func fromRecord(rec *sarama.ConsumerMessage) *model.Message {
	headers := make(map[string]any, len(rec.Headers))
	var ct string
	for _, h := range rec.Headers {
		if h == nil {
			continue
		}
		headers[string(h.Key)] = string(h.Value)
		// Header names are case-insensitive.
		if strings.EqualFold(string(h.Key), headerContentType) {
			ct = strings.ToLower(string(h.Value))
		}
	}

	var payload any = string(rec.Value)
	if strings.HasPrefix(ct, contentTypeJSON) {
		var decoded any
		if err := json.Unmarshal(rec.Value, &decoded); err == nil {
			payload = decoded
		}
	}

	id := string(rec.Key)
	if id == "" {
		id = uuid.NewString()
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &model.Message{ID: id, Payload: payload, Headers: headers, Timestamp: ts}
}

// KafkaSink produces each outbound message synchronously.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaSink connects a sync producer to the configured brokers.
func NewKafkaSink(cfg config.KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	sc, err := saramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return newKafkaSink(producer, cfg.Topic, logger), nil
}

func newKafkaSink(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "kafka_sink"),
	}
}

func (s *KafkaSink) Push(_ context.Context, out *model.Outbound) error {
	rec, err := toRecord(s.topic, out)
	if err != nil {
		return err
	}
	partition, offset, err := s.producer.SendMessage(rec)
	if err != nil {
		return fmt.Errorf("produce to %q: %w", s.topic, err)
	}
	s.logger.Debug("produced", "message_id", out.ID, "partition", partition, "offset", offset)
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

func toRecord(topic string, out *model.Outbound) (*sarama.ProducerMessage, error) {
	var (
		value       []byte
		contentType string
	)
	switch p := out.Payload.(type) {
	case string:
		value, contentType = []byte(p), "text/plain; charset=utf-8"
	case []byte:
		value, contentType = p, "application/octet-stream"
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload for message %q: %w", out.ID, err)
		}
		value, contentType = b, contentTypeJSON
	}

	headers := []sarama.RecordHeader{{Key: []byte(headerContentType), Value: []byte(contentType)}}
	for k, v := range out.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(fmt.Sprint(v))})
	}

	rec := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(value),
		Headers: headers,
	}
	if out.ID != "" {
		rec.Key = sarama.StringEncoder(out.ID)
	}
	if !out.Timestamp.IsZero() {
		rec.Timestamp = out.Timestamp
	}
	return rec, nil
}
