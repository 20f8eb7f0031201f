package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	ProviderMessageID string    `json:"providerMessageId"`
	SentAt            time.Time `json:"sentAt"`
}

func messageKey(id int64) string { return fmt.Sprintf("msg:%d", id) }

func receiptKey(providerID string) string { return "receipt:" + providerID }

// StoreSent writes both the forward and the reverse key in one transaction.
func (c *RedisCache) StoreSent(ctx context.Context, messageID int64, providerMessageID string, sentAt time.Time) error {
	val := sentValue{
		ProviderMessageID: providerMessageID,
		SentAt:            sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, messageKey(messageID), b, c.ttl)
		p.Set(ctx, receiptKey(providerMessageID), messageID, c.ttl)
		return nil
	})
	return err
}

func (c *RedisCache) LookupMessage(ctx context.Context, providerMessageID string) (int64, bool, error) {
	raw, err := c.rdb.Get(ctx, receiptKey(providerMessageID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt receipt entry %q: %w", raw, err)
	}
	return id, true, nil
}
