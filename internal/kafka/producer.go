package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
	"github.com/google/uuid"

	"github.com/segmentio/kafka-go"
)

// Типы публикуемых событий
const (
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionExpired   = "subscription.expired"
	EventPaymentFailed         = "payment.failed"
)

// SubscriptionEvent сообщение о смене состояния подписки для внешних систем
type SubscriptionEvent struct {
	EventID    string     `json:"event_id"`
	Type       string     `json:"type"`
	UserID     int64      `json:"user_id"`
	PlanID     *string    `json:"plan_id,omitempty"`
	Status     string     `json:"status"`
	NextBilled *time.Time `json:"next_billing_date,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Producer определяет интерфейс для публикации сообщений в Kafka.
type Producer interface {
	// PublishSubscriptionEvent отправляет событие смены состояния подписки.
	// Ключ сообщения - UserID: все события одного пользователя попадают
	// в одну партицию и сохраняют порядок.
	PublishSubscriptionEvent(ctx context.Context, eventType string, rec domain.UsageRecord) error
	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, topic string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers, "topic", topic)

	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishSubscriptionEvent преобразует событие в JSON и отправляет в Kafka.
func (k *kafkaProducer) PublishSubscriptionEvent(ctx context.Context, eventType string, rec domain.UsageRecord) error {
	event := SubscriptionEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		UserID:     rec.UserID,
		PlanID:     rec.PlanID,
		Status:     string(rec.SubscriptionStatus),
		NextBilled: rec.NextBillingDate,
		OccurredAt: time.Now(),
	}

	messageValue, err := json.Marshal(event)
	if err != nil {
		k.log.Errorw("Failed to marshal subscription event for Kafka", "error", err, "userID", rec.UserID, "type", eventType)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(strconv.FormatInt(rec.UserID, 10)),
		Value: messageValue,
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		k.log.Errorw("Failed to write message to Kafka", "error", err, "userID", rec.UserID, "type", eventType)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Subscription event published", "userID", rec.UserID, "type", eventType, "eventID", event.EventID)
	return nil
}

// Close закрывает writer Kafka.
func (k *kafkaProducer) Close() error {
	return k.writer.Close()
}
