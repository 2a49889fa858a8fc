package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/config"
	"github.com/dokzlo13/borrowd/internal/eventbus"
	"github.com/dokzlo13/borrowd/internal/notify"
)

// NotifyService connects the configured notification sinks to the bus.
type NotifyService struct {
	cfg   *config.Config
	bus   *eventbus.Bus
	Hub   *notify.Hub
	sinks []notify.Sink
}

// NewNotifyService creates a NotifyService. Brokers are dialled in Start.
func NewNotifyService(cfg *config.Config, bus *eventbus.Bus) *NotifyService {
	s := &NotifyService{cfg: cfg, bus: bus}
	if cfg.Notify.SSE {
		s.Hub = notify.NewHub()
	}
	return s
}

// Events returns the SSE stream handler, nil when SSE is disabled.
func (s *NotifyService) Events() http.Handler {
	if s.Hub == nil {
		return nil
	}
	return s.Hub
}

// Start connects every enabled sink and subscribes them to the bus.
// A broker that cannot be reached fails startup.
func (s *NotifyService) Start(ctx context.Context) error {
	n := s.cfg.Notify

	if n.Log {
		s.sinks = append(s.sinks, notify.LogSink{})
	}
	if s.Hub != nil {
		go s.Hub.Run(ctx)
		s.sinks = append(s.sinks, s.Hub)
	}

	if n.MQTT.Enabled {
		sink, err := notify.ConnectMQTT(notify.MQTTConfig{
			BrokerURL:   n.MQTT.Broker,
			ClientID:    n.MQTT.ClientID,
			Username:    n.MQTT.Username,
			Password:    n.MQTT.Password,
			TopicPrefix: n.MQTT.TopicPrefix,
			QoS:         n.MQTT.QoS,
		})
		if err != nil {
			s.Close()
			return fmt.Errorf("failed to start mqtt sink: %w", err)
		}
		s.sinks = append(s.sinks, sink)
	}

	if n.Redis.Enabled {
		sink, err := notify.ConnectRedis(ctx, notify.RedisConfig{
			Address:  n.Redis.Addr,
			Password: n.Redis.Password,
			DB:       n.Redis.DB,
			Channel:  n.Redis.Channel,
		})
		if err != nil {
			s.Close()
			return fmt.Errorf("failed to start redis sink: %w", err)
		}
		s.sinks = append(s.sinks, sink)
	}

	if n.AMQP.Enabled {
		sink, err := notify.ConnectAMQP(n.AMQP.URL, n.AMQP.Queue)
		if err != nil {
			s.Close()
			return fmt.Errorf("failed to start amqp sink: %w", err)
		}
		s.sinks = append(s.sinks, sink)
	}

	if len(s.sinks) == 0 {
		log.Debug().Msg("No notification sinks configured")
		return nil
	}

	notify.Attach(s.bus, n.PublishTimeout.Duration(), s.sinks...)

	names := make([]string, 0, len(s.sinks))
	for _, sink := range s.sinks {
		names = append(names, sink.Name())
	}
	log.Info().Strs("sinks", names).Msg("Notification sinks attached")
	return nil
}

// Close disconnects every sink.
func (s *NotifyService) Close() {
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", sink.Name()).Msg("Failed to close notification sink")
		}
	}
	s.sinks = nil
}
