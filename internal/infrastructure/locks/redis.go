package locks

import (
	"context"
	"sync"
	"time"

	"commissions-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisLockPrefix = "lock:"
	defaultLockTTL  = 5 * time.Second
	maxBackoff      = 40 * time.Millisecond
)

// releaseScript deletes the key only if it still carries our token, so an expired lock that was
// taken over by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every API instance. TTL bounds how long a crashed holder can block
// a key.
type Redis struct {
	Rdb *redis.Client
	TTL time.Duration
}

func (r *Redis) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return defaultLockTTL
}

func (r *Redis) Acquire(ctx context.Context, timeout time.Duration, keys ...string) (func(), error) {
	keys = normalize(keys)
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	held := make([]string, 0, len(keys))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := releaseScript.Run(context.Background(), r.Rdb, []string{held[i]}, token).Err(); err != nil {
				log.Warn().Err(err).Str("key", held[i]).Msg("lock release failed; key will expire")
			}
		}
	}

	for _, k := range keys {
		full := redisLockPrefix + k
		backoff := 2 * time.Millisecond
		for {
			ok, err := r.Rdb.SetNX(ctx, full, token, r.ttl()).Result()
			if err != nil {
				releaseAll()
				return nil, err
			}
			if ok {
				held = append(held, full)
				break
			}
			if time.Now().Add(backoff).After(deadline) {
				releaseAll()
				return nil, domain.ErrBusy
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				releaseAll()
				return nil, ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
		}
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
