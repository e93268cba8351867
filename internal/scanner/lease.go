package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease guards a scan across processes sharing one repository.
type Lease interface {
	// Acquire takes the lease for assetID for at most ttl. It fails with a
	// ConflictError when another holder owns it.
	Acquire(ctx context.Context, assetID string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Lease with SET NX PX keys.
type RedisLease struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLease creates a lease backed by client. Keys are namespaced by prefix.
func NewRedisLease(client redis.UniversalClient, prefix string) *RedisLease {
	if prefix == "" {
		prefix = "apisentry:scan:"
	}
	return &RedisLease{client: client, prefix: prefix}
}

// Acquire implements Lease.
func (l *RedisLease) Acquire(ctx context.Context, assetID string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.prefix + assetID
	owner := uuid.NewString()

	// Leave headroom past the scan deadline so cleanup runs before expiry.
	ok, err := l.client.SetNX(ctx, key, owner, ttl+5*time.Second).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if !ok {
		return nil, &ConflictError{AssetID: assetID, Reason: "scan in progress in another process"}
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, owner).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("releasing lease %s: %w", key, err)
		}
		return nil
	}, nil
}

// NewRedisClient builds a client from connection settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
