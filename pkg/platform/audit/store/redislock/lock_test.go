package redislock

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	id "casetrail/pkg/domain"
	"casetrail/pkg/platform/sentinel"
)

func TestKey(t *testing.T) {
	app := id.NewReference("Application", "42")

	k := Key(app, "income_proof_attached_income_blob_123")
	assert.True(t, strings.HasPrefix(k, keyPrefix))
	assert.Len(t, k, len(keyPrefix)+64)

	assert.Equal(t, k, Key(app, "income_proof_attached_income_blob_123"))
	assert.NotEqual(t, k, Key(app, "income_proof_attached_income_blob_124"))
	assert.NotEqual(t, k, Key(id.NewReference("Application", "43"), "income_proof_attached_income_blob_123"))
}

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestAcquire_BackendDownIsUnavailable(t *testing.T) {
	client := unreachableClient(t)

	release, acquired, err := New(client).Acquire(context.Background(), id.NewReference("Application", "42"), "fp")

	assert.Nil(t, release)
	assert.False(t, acquired)
	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
}

func TestRelease_FailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	l := New(unreachableClient(t), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	err := l.release(context.Background(), Key(id.NewReference("Application", "42"), "fp"), "token")

	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
	assert.Contains(t, logs.String(), "failed to release audit lock")
}
