// Package events publishes domain events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/retail-banking/transfer-service/internal/domain"
)

// RabbitMQPublisher publishes transfer-completed events to a durable
// topic exchange. Publishing happens after the transfer's transaction
// committed and is best-effort: downstream consumers (analytics,
// notifications) tolerate missing events.
type RabbitMQPublisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewRabbitMQPublisher connects to RabbitMQ and declares the exchange.
func NewRabbitMQPublisher(url, exchange, routingKey string) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &RabbitMQPublisher{
		conn:       conn,
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

// transferCompletedEvent is the wire format consumed by downstream
// services.
type transferCompletedEvent struct {
	EventType      string `json:"eventType"`
	EventID        string `json:"eventId"`
	TransactionID  string `json:"transactionId"`
	SenderID       string `json:"senderId,omitempty"`
	ReceiverID     string `json:"receiverId,omitempty"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// PublishTransferCompleted publishes one event for a committed transfer.
func (p *RabbitMQPublisher) PublishTransferCompleted(ctx context.Context, transaction *domain.Transaction) error {
	event := transferCompletedEvent{
		EventType:      "transfer.completed",
		EventID:        uuid.New().String(),
		TransactionID:  transaction.ID.String(),
		Amount:         transaction.Amount.StringFixed(2),
		Status:         string(transaction.Status),
		IdempotencyKey: transaction.IdempotencyKey,
		Timestamp:      transaction.CreatedAt.UTC().Format(time.RFC3339),
	}
	if transaction.SenderAccountID != nil {
		event.SenderID = transaction.SenderAccountID.String()
	}
	if transaction.ReceiverAccountID != nil {
		event.ReceiverID = transaction.ReceiverAccountID.String()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return err
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var _ domain.EventPublisher = (*RabbitMQPublisher)(nil)
