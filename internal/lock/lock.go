// Package lock provides the per-campaign dispatch lock. The conditional
// status update on the campaign row is the correctness mechanism for
// single-flight dispatch; this lock rejects a second concurrent dispatch
// loop early and across worker processes.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CampaignLocker acquires and releases dispatch locks keyed by campaign id.
type CampaignLocker interface {
	// Acquire returns false when another holder owns the campaign lock.
	Acquire(ctx context.Context, campaignID int, ttl time.Duration) (bool, error)
	// Refresh extends the TTL of a held lock.
	Refresh(ctx context.Context, campaignID int, ttl time.Duration) error
	Release(ctx context.Context, campaignID int) error
}

type redisLocker struct {
	client *redis.Client
}

// NewRedisLocker connects to Redis and returns a campaign locker.
func NewRedisLocker(url string) (CampaignLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logrus.WithField("addr", opts.Addr).Info("Connected to Redis")

	return &redisLocker{client: client}, nil
}

func lockKey(campaignID int) string {
	return fmt.Sprintf("campaign:dispatch:lock:%d", campaignID)
}

func (l *redisLocker) Acquire(ctx context.Context, campaignID int, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(campaignID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire campaign lock: %w", err)
	}
	return ok, nil
}

func (l *redisLocker) Refresh(ctx context.Context, campaignID int, ttl time.Duration) error {
	if err := l.client.Expire(ctx, lockKey(campaignID), ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh campaign lock: %w", err)
	}
	return nil
}

func (l *redisLocker) Release(ctx context.Context, campaignID int) error {
	if err := l.client.Del(ctx, lockKey(campaignID)).Err(); err != nil {
		return fmt.Errorf("failed to release campaign lock: %w", err)
	}
	return nil
}
