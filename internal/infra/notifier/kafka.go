package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-accounts/internal/core/port"
	"github.com/arklim/social-platform-accounts/internal/infra/kafka"
)

// KafkaTransport hands token deliveries to the notification service
// through a Kafka topic. The notification service owns templating and
// the actual email/SMS gateways.
type KafkaTransport struct {
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger
	now      func() time.Time
}

// NewKafkaTransport constructs a transport publishing to the given topic.
func NewKafkaTransport(producer *kafka.Producer, topic string, logger *zap.Logger) *KafkaTransport {
	return &KafkaTransport{
		producer: producer,
		topic:    topic,
		logger:   logger,
		now:      time.Now,
	}
}

type deliveryMessage struct {
	MessageID   string    `json:"message_id"`
	Channel     string    `json:"channel"`
	Destination string    `json:"destination"`
	Template    string    `json:"template"`
	Token       string    `json:"token,omitempty"`
	Code        string    `json:"code,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	QueuedAt    time.Time `json:"queued_at"`
}

// Send enqueues the delivery for the notification service.
func (t *KafkaTransport) Send(ctx context.Context, delivery port.TokenDelivery) error {
	message := deliveryMessage{
		MessageID:   uuid.NewString(),
		Channel:     delivery.Channel,
		Destination: delivery.Destination,
		Template:    string(delivery.Purpose),
		Token:       delivery.Token,
		Code:        delivery.Code,
		ExpiresAt:   delivery.ExpiresAt.UTC(),
		QueuedAt:    t.now().UTC(),
	}

	bytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal delivery message: %w", err)
	}

	producerMessage := &sarama.ProducerMessage{
		Topic: t.topic,
		Key:   sarama.StringEncoder(delivery.Destination),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case t.producer.Producer().Input() <- producerMessage:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.TokenTransport = (*KafkaTransport)(nil)
