package main

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisOpTimeout = 3 * time.Second

// presenceKeyPattern matches the member-list keys of presence channels.
// Writes to these keys are mirrored on the PresenceChannelUpdated
// pub/sub channel when publish_presence is enabled.
var presenceKeyPattern = regexp.MustCompile(`^presence-.*:members$`)

type redisStore struct {
	client          *redis.Client
	publishPresence bool
}

func newRedisStore(cfg redisConfig) (*redisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &redisStore{client: client, publishPresence: cfg.PublishPresence}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	value, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return err
	}
	if s.publishPresence && presenceKeyPattern.MatchString(key) {
		if err := s.client.Publish(ctx, "PresenceChannelUpdated", presenceUpdatePayload(key, value)).Err(); err != nil {
			logWarn("presence update publish", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func presenceUpdatePayload(key string, value []byte) string {
	payload, _ := json.Marshal(map[string]interface{}{
		"event": map[string]interface{}{
			"channel": key,
			"members": json.RawMessage(value),
		},
	})
	return string(payload)
}
