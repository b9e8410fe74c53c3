package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Shopify/sarama"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// brokerEnvelope is the payload shape used by brokers that carry the
// channel name inside the message body (NATS, Kafka, HTTP). Redis
// pub/sub carries the channel name out of band, as the publish channel.
type brokerEnvelope struct {
	Channel string         `json:"channel"`
	Message *brokerMessage `json:"message"`
}

// brokerSubscriber delivers inbound application events to a callback,
// once per event.
type brokerSubscriber interface {
	subscribe(fn broadcastFunc) error
}

func startSubscribers(cfg *config, fn broadcastFunc) error {
	var subs []brokerSubscriber
	if cfg.Subscribers.Redis.Enabled {
		subs = append(subs, newRedisSubscriber(cfg.Redis, cfg.Subscribers.Redis.Pattern))
	}
	if cfg.Subscribers.Nats.Enabled {
		subs = append(subs, &natsSubscriber{cfg: cfg.Subscribers.Nats})
	}
	if cfg.Subscribers.Kafka.Enabled {
		subs = append(subs, &kafkaSubscriber{cfg: cfg.Subscribers.Kafka})
	}
	for _, sub := range subs {
		if err := sub.subscribe(fn); err != nil {
			return err
		}
	}
	return nil
}

// redisSubscriber listens on Redis pub/sub with a channel pattern. The
// publish channel is the target broadcast channel; the payload is the
// message itself.
type redisSubscriber struct {
	client  *redis.Client
	pattern string
}

func newRedisSubscriber(cfg redisConfig, pattern string) *redisSubscriber {
	return &redisSubscriber{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}),
		pattern: pattern,
	}
}

func (s *redisSubscriber) subscribe(fn broadcastFunc) error {
	ctx := context.Background()
	pubsub := s.client.PSubscribe(ctx, s.pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		for delivery := range pubsub.Channel() {
			var msg brokerMessage
			if err := json.Unmarshal([]byte(delivery.Payload), &msg); err != nil {
				logWarn("redis event decode", zap.String("channel", delivery.Channel), zap.Error(err))
				continue
			}
			fn(delivery.Channel, &msg)
		}
	}()

	logInfo("listening for redis events", zap.String("pattern", s.pattern))
	return nil
}

// natsSubscriber listens on a NATS subject for broker envelopes.
type natsSubscriber struct {
	cfg natsSubConfig
}

func (s *natsSubscriber) subscribe(fn broadcastFunc) error {
	servers := strings.Join(s.cfg.Servers, ",")
	if servers == "" {
		servers = nats.DefaultURL
	}
	nc, err := nats.Connect(servers,
		nats.Name("echohub"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	_, err = nc.Subscribe(s.cfg.Subject, func(delivery *nats.Msg) {
		var env brokerEnvelope
		if err := json.Unmarshal(delivery.Data, &env); err != nil {
			logWarn("nats event decode", zap.String("subject", delivery.Subject), zap.Error(err))
			return
		}
		fn(env.Channel, env.Message)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	logInfo("listening for nats events", zap.String("subject", s.cfg.Subject))
	return nil
}

// kafkaSubscriber consumes broker envelopes from Kafka topics through a
// consumer group.
type kafkaSubscriber struct {
	cfg kafkaSubConfig
}

func (s *kafkaSubscriber) subscribe(fn broadcastFunc) error {
	config := sarama.NewConfig()
	config.Version = sarama.V2_1_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(s.cfg.Brokers, s.cfg.GroupID, config)
	if err != nil {
		return fmt.Errorf("kafka consumer group: %w", err)
	}

	go func() {
		for err := range group.Errors() {
			logWarn("kafka consumer", zap.Error(err))
		}
	}()

	handler := &kafkaHandler{fn: fn}
	go func() {
		ctx := context.Background()
		for {
			if err := group.Consume(ctx, s.cfg.Topics, handler); err != nil {
				logWarn("kafka consume", zap.Error(err))
			}
		}
	}()

	logInfo("listening for kafka events", zap.Strings("topics", s.cfg.Topics))
	return nil
}

type kafkaHandler struct {
	fn broadcastFunc
}

func (h *kafkaHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *kafkaHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *kafkaHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var env brokerEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			logWarn("kafka event decode", zap.String("topic", msg.Topic), zap.Error(err))
		} else {
			h.fn(env.Channel, env.Message)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
