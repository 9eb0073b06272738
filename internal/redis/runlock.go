package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const runLockKey = "notifier:expiration-check:lock"

// DefaultRunLockTTL bounds how long a crashed holder can block other
// instances. A full scan is expected to finish well within it.
const DefaultRunLockTTL = 30 * time.Minute

// RunLock is a cross-instance lock around one expiration check run,
// acquired with SET NX so only one notifier instance scans at a time.
type RunLock struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration

	token string // set while held
}

// NewRunLock creates a run lock. ttl <= 0 uses DefaultRunLockTTL.
func NewRunLock(client *Client, logger *zap.Logger, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = DefaultRunLockTTL
	}
	return &RunLock{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock. Returns false when another holder
// has it.
func (l *RunLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()

	set, err := l.client.rdb.SetNX(ctx, runLockKey, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		l.logger.Debug("run lock held elsewhere")
		return false, nil
	}

	l.token = token
	return true, nil
}

// Release drops the lock if this instance still holds it. A lock that
// expired and was re-acquired elsewhere is left alone.
func (l *RunLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""

	val, err := l.client.rdb.Get(ctx, runLockKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if val != token {
		l.logger.Warn("run lock was taken over, leaving it in place")
		return nil
	}

	if err := l.client.rdb.Del(ctx, runLockKey).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
