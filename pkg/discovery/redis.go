package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/cfoust/snek/pkg/protocol"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-redis/redis/v9"
	"github.com/rs/zerolog/log"
)

const registryPrefix = "snek:game:"

type RedisSettings struct {
	Address  string        `yaml:"address" json:"address"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

type registryEntry struct {
	Addr         string                `cbor:"1,keyasint"`
	Announcement protocol.Announcement `cbor:"2,keyasint"`
	SentAt       int64                 `cbor:"3,keyasint"`
}

// RedisRegistry mirrors announcements through Redis for networks that do not
// route multicast between peers.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(settings RedisSettings) *RedisRegistry {
	ttl := settings.TTL
	if ttl <= 0 {
		ttl = 3 * time.Second
	}

	return &RedisRegistry{
		client: redis.NewClient(&redis.Options{
			Addr:     settings.Address,
			Password: settings.Password,
			DB:       settings.DB,
		}),
		ttl: ttl,
	}
}

func registryKey(addr string) string {
	return fmt.Sprintf("%s%016x", registryPrefix, xxhash.Sum64String(addr))
}

func (r *RedisRegistry) Publish(ctx context.Context, addr string, announcement protocol.Announcement, now time.Time) error {
	data, err := cbor.Marshal(registryEntry{
		Addr:         addr,
		Announcement: announcement,
		SentAt:       now.UnixMilli(),
	})
	if err != nil {
		return err
	}

	return r.client.Set(ctx, registryKey(addr), data, r.ttl).Err()
}

func (r *RedisRegistry) Withdraw(ctx context.Context, addr string) error {
	return r.client.Del(ctx, registryKey(addr)).Err()
}

// observe puts an entry into the cache as seen now. The publisher's clock
// only decides whether the entry is too old to trust.
func (r *RedisRegistry) observe(cache *Cache, entry registryEntry, now time.Time) bool {
	if now.Sub(time.UnixMilli(entry.SentAt)) > r.ttl {
		return false
	}
	cache.Observe(entry.Addr, entry.Announcement, now)
	return true
}

// Sync copies every registered game into the cache.
func (r *RedisRegistry) Sync(ctx context.Context, cache *Cache) error {
	now := time.Now()
	iter := r.client.Scan(ctx, 0, registryPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}

		var entry registryEntry
		if err := cbor.Unmarshal(data, &entry); err != nil {
			log.Debug().Err(err).Str("key", iter.Val()).Msg("skipping bad registry entry")
			continue
		}

		if !r.observe(cache, entry, now) {
			log.Debug().Str("addr", entry.Addr).Msg("skipping stale registry entry")
		}
	}
	return iter.Err()
}

// Poll syncs the cache every interval until the context ends.
func (r *RedisRegistry) Poll(ctx context.Context, cache *Cache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sync(ctx, cache); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("failed to sync games from redis")
			}
		}
	}
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
