// Package notify turns orchestration outcomes into transient notifications
// and delivers them to the configured sinks: the local SSE stream, MQTT,
// Redis pub/sub, AMQP and the log.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/domain"
	"github.com/dokzlo13/borrowd/internal/eventbus"
)

// Notification is the payload every sink receives.
type Notification struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Action    string      `json:"action,omitempty"`
	UserID    int64       `json:"userId,omitempty"`
	Resource  *domain.Ref `json:"resource,omitempty"`
	RequestID int64       `json:"requestId,omitempty"`
	OK        bool        `json:"ok"`
	ErrorKind string      `json:"errorKind,omitempty"`
	Message   string      `json:"message,omitempty"`
	Time      time.Time   `json:"time"`
}

// New creates a notification for event with a fresh id.
func New(event eventbus.EventType) Notification {
	return Notification{
		ID:    uuid.NewString(),
		Event: string(event),
		OK:    event == eventbus.EventTypeActionCompleted || event == eventbus.EventTypeRefreshed,
		Time:  time.Now().UTC(),
	}
}

// Marshal encodes the notification as a single-line JSON document.
func (n Notification) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

// Sink delivers notifications somewhere.
type Sink interface {
	Name() string
	Publish(ctx context.Context, n Notification) error
	Close() error
}

// Attach subscribes sinks to every bus event carrying a Notification.
// Each delivery gets its own timeout; failures are logged and dropped.
func Attach(bus *eventbus.Bus, timeout time.Duration, sinks ...Sink) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for _, sink := range sinks {
		sink := sink
		bus.SubscribeAll(func(e eventbus.Event) {
			n, ok := e.Payload.(Notification)
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := sink.Publish(ctx, n); err != nil {
				log.Warn().
					Err(err).
					Str("sink", sink.Name()).
					Str("event", n.Event).
					Str("notification", n.ID).
					Msg("Failed to deliver notification")
			}
		})
		log.Info().Str("sink", sink.Name()).Msg("Notification sink attached")
	}
}

// LogSink writes notifications to the log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Publish(_ context.Context, n Notification) error {
	ev := log.Info()
	if !n.OK {
		ev = log.Warn().Str("error_kind", n.ErrorKind)
	}
	if n.Resource != nil {
		ev = ev.Stringer("resource", n.Resource)
	}
	if n.RequestID != 0 {
		ev = ev.Int64("request_id", n.RequestID)
	}
	ev.Str("event", n.Event).
		Str("action", n.Action).
		Int64("user_id", n.UserID).
		Str("message", n.Message).
		Msg("Notification")
	return nil
}

func (LogSink) Close() error { return nil }
