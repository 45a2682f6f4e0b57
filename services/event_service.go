package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"societyapp/config"
	"societyapp/models"

	"github.com/IBM/sarama"
)

const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

// PaymentEvent сообщение о смене статуса платежа
type PaymentEvent struct {
	Type          string                 `json:"event_type"`
	PaymentID     string                 `json:"payment_id"`
	UserID        uint                   `json:"user_id"`
	Amount        string                 `json:"amount"`
	Category      models.PaymentCategory `json:"type"`
	Status        models.PaymentStatus   `json:"status"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

// NewPaymentEvent собирает событие из записи платежа
func NewPaymentEvent(eventType string, p *models.Payment, at time.Time) PaymentEvent {
	event := PaymentEvent{
		Type:       eventType,
		PaymentID:  p.ID,
		UserID:     p.UserID,
		Amount:     p.Amount.StringFixed(2),
		Category:   p.Category,
		Status:     p.Status,
		OccurredAt: at.UTC(),
	}
	if p.TransactionID != nil {
		event.TransactionID = *p.TransactionID
	}
	return event
}

// EventPublisher публикует события платежей
type EventPublisher interface {
	Publish(ctx context.Context, event PaymentEvent) error
	Close() error
}

// NopEventPublisher используется, когда Kafka отключена
type NopEventPublisher struct{}

func (NopEventPublisher) Publish(context.Context, PaymentEvent) error {
	return nil
}

func (NopEventPublisher) Close() error {
	return nil
}

// KafkaEventPublisher отправляет события в топик Kafka
type KafkaEventPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaEventPublisher подключается к брокерам из конфигурации
func NewKafkaEventPublisher(cfg *config.Config) (*KafkaEventPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	return NewKafkaEventPublisherWithProducer(producer, cfg.Kafka.Topic), nil
}

// NewKafkaEventPublisherWithProducer оборачивает готовый продюсер
func NewKafkaEventPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

// Publish отправляет событие с ключом сообщения, равным ID платежа
func (p *KafkaEventPublisher) Publish(ctx context.Context, event PaymentEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.PaymentID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send payment event: %w", err)
	}
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}
