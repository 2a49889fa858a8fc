package notify

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// DefaultAMQPQueue is the queue notifications are published to.
const DefaultAMQPQueue = "borrowd.notifications"

// AMQPChannel is the part of an AMQP channel the sink uses.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes notifications to a durable queue behind a circuit
// breaker.
type AMQPSink struct {
	conn      *amqp.Connection
	ch        AMQPChannel
	queueName string
	cb        *gobreaker.CircuitBreaker
}

// ConnectAMQP dials the broker and declares the queue.
func ConnectAMQP(url, queueName string) (*AMQPSink, error) {
	if queueName == "" {
		queueName = DefaultAMQPQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	sink := NewAMQPSink(ch, queueName)
	sink.conn = conn
	return sink, nil
}

// NewAMQPSink publishes on an open channel. The queue must be declared.
func NewAMQPSink(ch AMQPChannel, queueName string) *AMQPSink {
	if queueName == "" {
		queueName = DefaultAMQPQueue
	}
	return &AMQPSink{
		ch:        ch,
		queueName: queueName,
		cb:        newPublisherBreaker("amqp-" + queueName),
	}
}

func newPublisherBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Publish(ctx context.Context, n Notification) error {
	body, err := n.Marshal()
	if err != nil {
		return err
	}

	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.ch.PublishWithContext(
			ctx,
			"",          // default exchange
			s.queueName, // routing key == queue name
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    n.ID,
				Timestamp:    n.Time,
				Type:         n.Event,
				Body:         body,
			},
		)
	})
	return err
}

func (s *AMQPSink) Close() error {
	if s.ch != nil {
		if err := s.ch.Close(); err != nil {
			return err
		}
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
