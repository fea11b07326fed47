package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "oven:account:update"

// RedisPublisher publishes events on a pub/sub channel and keeps the latest
// snapshot of each account under oven:account:<id> for late subscribers.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	ttl     time.Duration
}

func NewRedisPublisher(rdb *redis.Client, channel string, ttl time.Duration) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel, ttl: ttl}
}

func SnapshotKey(accountID string) string {
	return fmt.Sprintf("oven:account:%s", accountID)
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	snap, err := json.Marshal(ev.Account)
	if err != nil {
		return err
	}

	pipe := p.rdb.Pipeline()
	if ev.Kind == AccountDeleted {
		pipe.Del(ctx, SnapshotKey(ev.Account.ID))
	} else {
		pipe.Set(ctx, SnapshotKey(ev.Account.ID), snap, p.ttl)
	}
	pipe.Publish(ctx, p.channel, b)
	_, err = pipe.Exec(ctx)
	return err
}
