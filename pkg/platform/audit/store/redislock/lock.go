// Package redislock is a Redis-backed advisory lock for the audit write path.
// A lock is a SET NX PX key per (subject, fingerprint) holding a random token;
// release deletes the key only while it still holds that token.
package redislock

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	id "casetrail/pkg/domain"
	"casetrail/pkg/platform/sentinel"
)

const (
	keyPrefix  = "audit:lock:"
	DefaultTTL = 5 * time.Second
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker takes short-lived advisory locks in Redis.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Locker)

// WithTTL sets how long an unreleased lock survives. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLogger sets the logger that reports failed releases.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{client: client, ttl: DefaultTTL, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Key returns the Redis key for (subject, fingerprint). Fingerprints embed caller
// metadata, so they are hashed to keep keys bounded.
func Key(subject id.Reference, fingerprint string) string {
	sum := blake2b.Sum256([]byte(subject.String() + "\x00" + fingerprint))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Acquire tries to take the lock once. acquired is false when another holder has it.
func (l *Locker) Acquire(ctx context.Context, subject id.Reference, fingerprint string) (func(context.Context), bool, error) {
	key := Key(subject, fingerprint)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire audit lock: %w: %w", sentinel.ErrUnavailable, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) {
		_ = l.release(ctx, key, token)
	}, true, nil
}

// release deletes key if it still holds token. A failed release leaves the lock in
// place until its TTL expires, so it is logged.
func (l *Locker) release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.WarnContext(ctx, "failed to release audit lock, held until ttl expiry",
			"key", key,
			"ttl", l.ttl,
			"error", err,
		)
		return fmt.Errorf("release audit lock: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}
