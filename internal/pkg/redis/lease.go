package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Lease is a named lock held by one holder at a time until it expires.
type Lease struct {
	client *Client
	key    string
	holder string
	ttl    time.Duration
}

// NewLease creates a lease on key for holder.
func NewLease(client *Client, key, holder string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, holder: holder, ttl: ttl}
}

// Acquire takes the lease, or extends it when this holder already owns it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	n, err := renewScript.Run(ctx, l.client.rdb, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release drops the lease if this holder owns it.
func (l *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.holder).Err()
}
