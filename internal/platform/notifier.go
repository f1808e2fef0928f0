// internal/platform/notifier.go
// Publishes notification events to Kafka for the external dispatch service

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// NotificationEvent is the payload consumed by the notification dispatcher
type NotificationEvent struct {
	UserID    int64             `json:"user_id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Notifier publishes notification events. Delivery is fire-and-forget:
// publish failures are logged, never propagated to the caller.
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, body string, metadata map[string]string)
	Close() error
}

// KafkaNotifier publishes notification events to a Kafka topic
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier for the given brokers and topic
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &KafkaNotifier{writer: writer}
}

// Notify publishes a single notification event keyed by user id
func (n *KafkaNotifier) Notify(ctx context.Context, userID int64, title, body string, metadata map[string]string) {
	event := NotificationEvent{
		UserID:    userID,
		Title:     title,
		Body:      body,
		Metadata:  metadata,
		Timestamp: time.Now().Unix(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling notification event: %v", err)
		return
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", userID)),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		log.Printf("Error publishing notification event for user %d: %v", userID, err)
	}
}

// Close flushes and closes the underlying writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
