package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// releaseScript deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward only while the lock still holds our token
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a single-instance Redis lock shared by every API and job process.
// A held lock is renewed every third of its TTL until released, so a holder
// waiting on a slow payout transfer keeps other instances out.
type RedisLocker struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
	logger    logrus.FieldLogger
}

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed holder
// can block other writers.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger logrus.FieldLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client:    client,
		prefix:    "lock:ledger:",
		ttl:       ttl,
		retryWait: 50 * time.Millisecond,
		logger:    logger,
	}
}

// Lock implements Locker
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	log := l.logger.WithField("key", key)
	renewEvery := l.ttl / 3
	if renewEvery <= 0 {
		renewEvery = l.ttl
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		keepAlive(stop, renewEvery, func() (bool, error) {
			extendCtx, cancel := context.WithTimeout(context.Background(), renewEvery)
			defer cancel()
			n, err := extendScript.Run(extendCtx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
			return n == 1, err
		}, log)
	}()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		close(stop)
		<-stopped

		// Release with a fresh context so a cancelled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			log.WithError(err).Warn("failed to release redis lock")
		}
	}, nil
}

// keepAlive calls extend every interval until stop is closed. It gives up once
// extend reports the key no longer holds our token.
func keepAlive(stop <-chan struct{}, interval time.Duration, extend func() (bool, error), log logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			held, err := extend()
			if err != nil {
				log.WithError(err).Warn("failed to extend redis lock")
				continue
			}
			if !held {
				log.Error("redis lock expired while held")
				return
			}
		}
	}
}
