package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Tonic56/stock-trading-simulator/internal/config"
	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes settled trades to Kafka keyed by user id, so a user's
// trades stay ordered within one partition.
type Producer struct {
	writer messageWriter
	topic  string
	log    *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, log *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error("kafka: failed to deliver trade events", "count", len(messages), slog.Any("error", err))
			}
		},
	}
	return &Producer{writer: w, topic: cfg.Topic, log: log}
}

func (p *Producer) PublishTrade(ctx context.Context, event models.TradeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal trade event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID.String()),
		Value: payload,
		Time:  event.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	p.log.Info("closing kafka producer", "topic", p.topic)
	return p.writer.Close()
}

// Discard drops every event. It stands in for the producer when Kafka is
// disabled.
type Discard struct{}

func (Discard) PublishTrade(context.Context, models.TradeEvent) error { return nil }

func (Discard) PublishQuote(context.Context, models.QuoteUpdate) error { return nil }
