package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"ride-chat-sync/internal/rabbitmq"
)

// Backend names accepted by NewDispatcher.
const (
	BackendAMQP  = "amqp"
	BackendRedis = "redis"
	BackendNoop  = "noop"
)

// AMQPDispatcher publishes notifications to a topic exchange.
type AMQPDispatcher struct {
	publisher  rabbitmq.Publisher
	routingKey string
}

func NewAMQPDispatcher(publisher rabbitmq.Publisher, routingKey string) *AMQPDispatcher {
	return &AMQPDispatcher{publisher: publisher, routingKey: routingKey}
}

func (d *AMQPDispatcher) Dispatch(ctx context.Context, n Notification) error {
	return d.publisher.Publish(ctx, d.routingKey, n, map[string]string{
		"classification": n.Classification,
		"priority":       n.Priority,
	})
}

func (d *AMQPDispatcher) Close() error {
	return d.publisher.Close()
}

// RedisDispatcher publishes notifications on a Redis pub/sub channel.
type RedisDispatcher struct {
	client  *redis.Client
	channel string
}

func NewRedisDispatcher(client *redis.Client, channel string) *RedisDispatcher {
	return &RedisDispatcher{client: client, channel: channel}
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return d.client.Publish(ctx, d.channel, data).Err()
}

func (d *RedisDispatcher) Close() error {
	return d.client.Close()
}

// NopDispatcher drops notifications after logging them.
type NopDispatcher struct {
	Logger *zap.Logger
}

func (d NopDispatcher) Dispatch(_ context.Context, n Notification) error {
	if d.Logger != nil {
		d.Logger.Debug("notification dropped", zap.String("conversation_id", n.ConversationID))
	}
	return nil
}

func (NopDispatcher) Close() error {
	return nil
}

// Options selects and configures a dispatch backend.
type Options struct {
	Backend      string
	AMQPURL      string
	Exchange     string
	RoutingKey   string
	RedisAddr    string
	RedisChannel string
}

// ClosableDispatcher is a Dispatcher owning a connection.
type ClosableDispatcher interface {
	Dispatcher
	Close() error
}

// NewDispatcher builds the configured backend.
func NewDispatcher(opts Options, logger *zap.Logger) (ClosableDispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Backend {
	case BackendAMQP:
		return NewAMQPDispatcher(rabbitmq.NewPublisher(opts.AMQPURL, opts.Exchange, logger), opts.RoutingKey), nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		return NewRedisDispatcher(client, opts.RedisChannel), nil
	case BackendNoop, "":
		return NopDispatcher{Logger: logger}, nil
	}
	return nil, fmt.Errorf("unknown notification backend %q", opts.Backend)
}
