package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "webhook:event:"

// EventStore keeps processed webhook ids in Redis with a TTL that outlives the
// provider's redelivery window.
type EventStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEventStore(addr, password string, db int, ttl time.Duration) *EventStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewEventStoreWithClient(rdb, ttl)
}

func NewEventStoreWithClient(client *redis.Client, ttl time.Duration) *EventStore {
	return &EventStore{client: client, ttl: ttl}
}

func (s *EventStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *EventStore) EventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *EventStore) RecordEvent(ctx context.Context, eventID, eventType string) error {
	if err := s.client.SetNX(ctx, keyPrefix+eventID, eventType, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}

func (s *EventStore) Close() error {
	return s.client.Close()
}
