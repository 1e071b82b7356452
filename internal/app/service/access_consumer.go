package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/ShortRank/internal/app/model"
	"go.uber.org/zap"
)

// AccessConsumer drains the access stream. It is the attachment point for
// external analytics; the bundled handler only logs and acks.
type AccessConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewAccessConsumer creates a new access event consumer.
func NewAccessConsumer(js nats.JetStreamContext, logger *zap.Logger) *AccessConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessConsumer{js: js, logger: logger}
}

// Start ensures the stream and durable consumer exist and begins consuming.
func (c *AccessConsumer) Start() error {
	_, err := c.js.StreamInfo(model.AccessStreamName)
	if err != nil {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     model.AccessStreamName,
			Subjects: []string{model.AccessStreamSubject},
			MaxBytes: model.AccessStreamMaxByte,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	_, err = c.js.ConsumerInfo(model.AccessStreamName, model.AccessConsumerName)
	if err != nil {
		_, err = c.js.AddConsumer(model.AccessStreamName, &nats.ConsumerConfig{
			Durable:   model.AccessConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.AccessStreamSubject, model.AccessConsumerName)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(sub)
	return nil
}

func (c *AccessConsumer) consume(sub *nats.Subscription) {
	for {
		msgs, err := sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil && err != nats.ErrTimeout {
			c.logger.Error("failed to fetch messages", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			var event model.AccessRecorded
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				c.logger.Error("failed to unmarshal access event", zap.Error(err))
				msg.Nak()
				continue
			}

			c.logger.Debug("access event drained",
				zap.String("id", event.ID),
				zap.String("code", event.Code),
				zap.Time("accessed_at", event.AccessedAt),
			)

			msg.Ack()
		}
	}
}
