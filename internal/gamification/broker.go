package gamification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	defaultExchange   = "careertrack.xp"
	defaultRoutingKey = "xp.awarded"
	defaultQueue      = "careertrack.xp.awarded"
	contentTypeJSON   = "application/json"
)

var errMissingBrokerURL = errors.New("gamification: broker url required")

// BrokerConfig describes the RabbitMQ topology used for XP events.
type BrokerConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
	Clock      func() time.Time
}

// AwardMessage is the JSON body published for each award.
type AwardMessage struct {
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	Points     int64     `json:"points"`
	OccurredAt time.Time `json:"occurred_at"`
}

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// BrokerAwarder hands awards to an external gamification service over RabbitMQ.
type BrokerAwarder struct {
	mu         sync.Mutex
	channel    amqpPublisher
	closer     func() error
	exchange   string
	routingKey string
	clock      func() time.Time
	logger     *zap.Logger
}

// DialBrokerAwarder connects to RabbitMQ and declares a durable direct exchange with a bound queue.
func DialBrokerAwarder(cfg BrokerConfig, logger *zap.Logger) (*BrokerAwarder, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errMissingBrokerURL
	}
	cfg = withBrokerDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	queue, err := channel.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger.Info("connected to rabbitmq",
		zap.String("exchange", cfg.Exchange),
		zap.String("queue", cfg.QueueName),
		zap.String("routing_key", cfg.RoutingKey))

	awarder := newBrokerAwarder(channel, cfg, logger)
	awarder.closer = func() error {
		channel.Close()
		return conn.Close()
	}
	return awarder, nil
}

func newBrokerAwarder(channel amqpPublisher, cfg BrokerConfig, logger *zap.Logger) *BrokerAwarder {
	cfg = withBrokerDefaults(cfg)
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrokerAwarder{
		channel:    channel,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		clock:      clock,
		logger:     logger,
	}
}

func withBrokerDefaults(cfg BrokerConfig) BrokerConfig {
	if strings.TrimSpace(cfg.Exchange) == "" {
		cfg.Exchange = defaultExchange
	}
	if strings.TrimSpace(cfg.RoutingKey) == "" {
		cfg.RoutingKey = defaultRoutingKey
	}
	if strings.TrimSpace(cfg.QueueName) == "" {
		cfg.QueueName = defaultQueue
	}
	return cfg
}

// Award publishes a persistent AwardMessage.
func (awarder *BrokerAwarder) Award(ctx context.Context, userID string, action Action) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUserID
	}
	points, err := PointsFor(action)
	if err != nil {
		return err
	}
	occurredAt := awarder.clock().UTC()
	body, err := json.Marshal(AwardMessage{
		UserID:     userID,
		Action:     string(action),
		Points:     points,
		OccurredAt: occurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	awarder.mu.Lock()
	defer awarder.mu.Unlock()
	err = awarder.channel.PublishWithContext(ctx, awarder.exchange, awarder.routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  contentTypeJSON,
		Body:         body,
		Timestamp:    occurredAt,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	awarder.logger.Debug("published xp award",
		zap.String("user_id", userID),
		zap.String("action", string(action)))
	return nil
}

// Close releases the channel and connection.
func (awarder *BrokerAwarder) Close() error {
	if awarder == nil || awarder.closer == nil {
		return nil
	}
	return awarder.closer()
}
