package service

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/ShortRank/internal/app/model"
)

// AccessPublisher publishes committed access events to NATS JetStream for
// downstream analytics. It runs strictly after the database commit, so every
// published event corresponds to a durable row.
type AccessPublisher struct {
	js nats.JetStreamContext
}

// NewAccessPublisher creates a new access event publisher.
func NewAccessPublisher(js nats.JetStreamContext) *AccessPublisher {
	return &AccessPublisher{js: js}
}

// Publish publishes one access event to the stream.
func (p *AccessPublisher) Publish(event model.AccessRecorded) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(model.AccessStreamSubject, data)
	return err
}
