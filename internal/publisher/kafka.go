package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"ecowatch/internal/config"
	"ecowatch/internal/model"
)

type kafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafka(cfg config.KafkaConfig, logger *slog.Logger) Publisher {
	if logger != nil {
		logger.Info("kafka publisher enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &kafkaPublisher{writer: writer, logger: logger}
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev model.AlertEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}
	msg := kafka.Message{
		// Random key per event; hashing it spreads events across partitions.
		Key:   []byte(uuid.NewString()),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert event: %w", err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}
