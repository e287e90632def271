// Package kafka publishes triage notifications to a Kafka topic so that
// downstream consumers (websocket fan-out, email, chat bridges) can deliver
// them to users.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/deskmate/internal/triage"
)

const writeTimeout = 10 * time.Second

// messageWriter is the subset of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value written for every notification.
type Envelope struct {
	Event        string               `json:"event"`
	UserID       string               `json:"user_id"`
	Notification *triage.Notification `json:"notification"`
}

// Notifier writes notifications to Kafka keyed by user id, so one user's
// events stay ordered within a partition.
type Notifier struct {
	writer messageWriter
	logger log.Logger
}

// New creates a Notifier writing to topic on brokers.
func New(brokers []string, topic string, logger log.Logger) *Notifier {
	if len(brokers) == 0 {
		panic(xerrors.New("kafka brokers are required"))
	}
	if topic == "" {
		panic(xerrors.New("kafka topic is required"))
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: writeTimeout,
	}
	return newWithWriter(w, logger)
}

func newWithWriter(w messageWriter, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{writer: w, logger: logger}
}

// BroadcastToUser publishes one message for userID.
func (n *Notifier) BroadcastToUser(ctx context.Context, userID, event string, nt *triage.Notification) error {
	value, err := json.Marshal(Envelope{Event: event, UserID: userID, Notification: nt})
	if err != nil {
		return fmt.Errorf("kafka: marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(userID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write message: %w", err)
	}

	n.logger.Info(ctx, "kafka notification published", "event", event, "user_id", userID)
	return nil
}

// Close flushes pending writes and releases the writer.
func (n *Notifier) Close() error {
	return n.writer.Close()
}
