// Package kafka publishes significant-event alerts to a Kafka topic for
// downstream consumers (paging, archival). The sink is best effort: a
// produce failure is logged, never surfaced to the ingestion path.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-monitor/internal/config"
	"github.com/couchcryptid/quake-monitor/internal/domain"
)

const produceTimeout = 10 * time.Second

// AlertWriter produces alert messages to the configured alerts topic.
type AlertWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

func NewAlertWriter(cfg *config.Config, logger *slog.Logger) *AlertWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAlertsTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &AlertWriter{writer: w, logger: logger}
}

// HandleEvent is the bus handler. Only significant alerts go to Kafka;
// plain detections stay on the live feed.
func (w *AlertWriter) HandleEvent(event domain.DomainEvent) {
	alert, ok := event.(domain.SignificantAlert)
	if !ok {
		return
	}

	msg, err := serializeAlert(alert)
	if err != nil {
		w.logger.Error("serialize alert", "external_id", alert.ExternalID, "error", err)
		return
	}

	// Detached from any request context: the bus handler must not block on
	// a caller's lifetime.
	ctx, cancel := context.WithTimeout(context.Background(), produceTimeout)
	defer cancel()

	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		w.logger.Error("produce alert", "external_id", alert.ExternalID, "error", err)
	}
}

func (w *AlertWriter) Close() error {
	return w.writer.Close()
}

func serializeAlert(alert domain.SignificantAlert) (kafkago.Message, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(alert.ExternalID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(alert.Kind())},
			{Key: "emitted_at", Value: []byte(alert.Timestamp.Format(time.RFC3339))},
		},
	}, nil
}
