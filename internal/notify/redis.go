package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel notifications go to.
const DefaultRedisChannel = "borrowd:notifications"

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher is the part of a redis client the sink uses.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisSink publishes notifications on a pub/sub channel.
type RedisSink struct {
	client  RedisPublisher
	channel string
}

// ConnectRedis creates the client and checks the server answers.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisSink(client, cfg.Channel), nil
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client RedisPublisher, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, n Notification) error {
	body, err := n.Marshal()
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, body).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
