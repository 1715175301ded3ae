// Package events publishes terminal unit transitions to an AMQP topic
// exchange so downstream consumers (notification workers, analytics)
// can react without polling. Publishing is best effort, like the
// History mirror: failures are logged and never block generation.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/reelforge/reelforge/pkg/models"
)

const routingKeyUnitStatus = "unit.status"

// Publisher emits unit status events. The zero-value Nop publisher is
// used when AMQP is not configured.
type Publisher interface {
	PublishUnitStatus(ctx context.Context, unit *models.Unit)
	Close() error
}

// UnitStatusEvent is the wire shape of one terminal transition.
type UnitStatusEvent struct {
	UnitID         string    `json:"unit_id"`
	JobID          string    `json:"job_id"`
	SequenceNumber int       `json:"sequence_number"`
	Status         string    `json:"status"`
	ArtifactURL    string    `json:"artifact_url,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// AMQPPublisher implements Publisher over a RabbitMQ topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQP dials the broker and declares the exchange.
func NewAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) PublishUnitStatus(ctx context.Context, unit *models.Unit) {
	ev := UnitStatusEvent{
		UnitID:         unit.ID.String(),
		JobID:          unit.JobID.String(),
		SequenceNumber: unit.SequenceNumber,
		Status:         unit.Status,
		ArtifactURL:    unit.ArtifactURL,
		Timestamp:      time.Now().UTC(),
	}
	if unit.ErrorMessage != nil {
		ev.Error = *unit.ErrorMessage
	}

	body, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("encode unit status event", "unit_id", unit.ID, "error", err)
		return
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKeyUnitStatus,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.Timestamp,
		},
	)
	if err != nil {
		slog.Warn("publish unit status event", "unit_id", unit.ID, "error", err)
	}
}

func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// Nop discards all events.
type Nop struct{}

func (Nop) PublishUnitStatus(context.Context, *models.Unit) {}
func (Nop) Close() error                                    { return nil }

var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = Nop{}
)
