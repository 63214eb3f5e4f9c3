package auth

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Blacklist отозванные токены в Redis, ключ живёт до истечения токена
type Blacklist struct {
	client    *redis.Client
	keyPrefix string
}

func NewBlacklist(client *redis.Client, keyPrefix string) *Blacklist {
	return &Blacklist{client: client, keyPrefix: keyPrefix}
}

func (b *Blacklist) key(token string) string {
	return b.keyPrefix + "blacklist:" + token
}

func (b *Blacklist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, b.key(token), 1, ttl).Err()
}

// IsRevoked при ошибке Redis считает токен отозванным
func (b *Blacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(token)).Result()
	if err != nil {
		return true, err
	}
	return n > 0, nil
}
