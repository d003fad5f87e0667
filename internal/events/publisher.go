// Package events publishes booking domain events for the external
// notification dispatcher. Publishing is best effort: booking state is
// authoritative in Postgres and never waits on the event stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/models"
)

// Event types consumed by the notification dispatcher
const (
	TypeBookingCreated       = "booking.created"
	TypeBookingConfirmed     = "booking.confirmed"
	TypeBookingPaymentFailed = "booking.payment_failed"
	TypeBookingCancelled     = "booking.cancelled"
	TypeBookingCompleted     = "booking.completed"
)

// BookingEvent is the wire shape of a domain event
type BookingEvent struct {
	Type       string               `json:"type"`
	BookingID  uuid.UUID            `json:"booking_id"`
	VehicleID  uuid.UUID            `json:"vehicle_id"`
	RenterID   uuid.UUID            `json:"renter_id"`
	Status     models.BookingStatus `json:"status"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// FromBooking builds an event of the given type for the booking
func FromBooking(eventType string, b *models.Booking) BookingEvent {
	return BookingEvent{
		Type:       eventType,
		BookingID:  b.ID,
		VehicleID:  b.VehicleID,
		RenterID:   b.RenterID,
		Status:     b.Status,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher emits booking domain events
type Publisher interface {
	Publish(ctx context.Context, event BookingEvent) error
	Close() error
}

// KafkaPublisher writes events to the booking-events topic, keyed by booking
// id so per-booking ordering is preserved within a partition
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic
func NewKafkaPublisher(brokers []string, topic string, logger *logrus.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish writes one event
func (p *KafkaPublisher) Publish(ctx context.Context, event BookingEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.BookingID.String()),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_type": event.Type,
		"booking_id": event.BookingID,
	}).Debug("Domain event published")

	return nil
}

// Close flushes and closes the underlying writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher is used when Kafka is not configured: events are only logged
type LogPublisher struct {
	logger *logrus.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event
func (p *LogPublisher) Publish(_ context.Context, event BookingEvent) error {
	p.logger.WithFields(logrus.Fields{
		"event_type": event.Type,
		"booking_id": event.BookingID,
		"status":     event.Status,
	}).Info("Domain event (kafka disabled)")
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() error { return nil }
