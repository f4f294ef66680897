package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/safar/solestore/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

// ReminderEvent is the message a notification service turns into an
// abandoned-cart email.
type ReminderEvent struct {
	AbandonedCartID int64             `json:"abandoned_cart_id"`
	UserID          int64             `json:"user_id"`
	Email           string            `json:"email"`
	RecoveryToken   string            `json:"recovery_token"`
	Items           []models.CartItem `json:"items"`
	Subtotal        decimal.Decimal   `json:"subtotal"`
	ReminderNumber  int               `json:"reminder_number"`
	ExpiresAt       time.Time         `json:"expires_at"`
	SentAt          time.Time         `json:"sent_at"`
}

func NewReminderEvent(ac models.AbandonedCart, now time.Time) ReminderEvent {
	return ReminderEvent{
		AbandonedCartID: ac.ID,
		UserID:          ac.UserID,
		Email:           ac.Email,
		RecoveryToken:   ac.RecoveryToken,
		Items:           ac.Items,
		Subtotal:        ac.Subtotal,
		ReminderNumber:  ac.ReminderCount + 1,
		ExpiresAt:       ac.ExpiresAt,
		SentAt:          now,
	}
}

type Publisher interface {
	PublishReminder(ctx context.Context, event ReminderEvent) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes reminder events to Kafka keyed by recovery token.
// Writes go through a circuit breaker so a broker outage fails fast instead of
// stalling every tick.
type KafkaPublisher struct {
	writer  messageWriter
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func NewKafkaPublisher(topic string, brokers ...string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return newKafkaPublisher(w)
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-reminders",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return &KafkaPublisher{writer: w, breaker: breaker}
}

func (p *KafkaPublisher) PublishReminder(ctx context.Context, event ReminderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.RecoveryToken),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("abandoned_cart.reminder")},
			{Key: "reminder_number", Value: []byte(strconv.Itoa(event.ReminderNumber))},
		},
	}

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("publish reminder %d: %w", event.AbandonedCartID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
