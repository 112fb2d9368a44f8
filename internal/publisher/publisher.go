package publisher

import (
	"context"
	"log/slog"

	"ecowatch/internal/config"
	"ecowatch/internal/model"
)

// Publisher accepts one alert event per stored observation. Delivery to the
// ultimate subscribers is the bus's responsibility, not ours.
type Publisher interface {
	Publish(ctx context.Context, ev model.AlertEvent) error
	Close() error
}

// NewPublisher returns the kafka publisher when the bus is configured and a
// log-only publisher otherwise, so single-node deployments still surface
// every event somewhere observable.
func NewPublisher(cfg config.PublisherConfig, logger *slog.Logger) Publisher {
	if cfg.Kafka.Enabled {
		return NewKafka(cfg.Kafka, logger)
	}
	return NewLog(logger)
}

type logPublisher struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) Publisher {
	return &logPublisher{logger: logger}
}

func (p *logPublisher) Publish(_ context.Context, ev model.AlertEvent) error {
	if p.logger != nil {
		p.logger.Info("alert event",
			"type", ev.Kind,
			"concern", ev.Concern,
			"owner", ev.Owner,
			"title", ev.Title,
			"value", ev.Value,
		)
	}
	return nil
}

func (p *logPublisher) Close() error { return nil }
