package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if it still holds our token,
// so a late release never drops a lock acquired by a newer holder.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// AcquireLock attempts an atomic create-if-absent with expiry on the lock
// key "lock:<name>". On success it returns a unique ownership token. It
// retries up to retries times, sleeping retryDelay between attempts, and
// returns "" once they are exhausted or the context is done.
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl time.Duration, retries int, retryDelay time.Duration) (string, error) {
	b := make([]byte, 16)
	rand.Read(b)
	token := hex.EncodeToString(b)
	key := "lock:" + name

	for attempt := 0; ; attempt++ {
		ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			return token, nil
		}
		if attempt >= retries {
			return "", nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// ReleaseLock releases the named lock if token still owns it.
// Returns true if the lock was released, false if ownership had moved on.
func (c *Cache) ReleaseLock(ctx context.Context, name string, token string) (bool, error) {
	res, err := releaseScript.Run(ctx, c.client, []string{"lock:" + name}, token).Int()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", name, err)
	}
	return res == 1, nil
}
