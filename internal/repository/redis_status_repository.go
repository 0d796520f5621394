package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"CapIot.occupancy/internal/models"
	"github.com/go-redis/redis/v8"
)

const (
	fieldBlocked       = "blocked"
	fieldBlockedReason = "blockedReason"
	fieldBlockedAt     = "blockedAt"
	fieldLastTimestamp = "lastTimestamp"
	fieldLastSeen      = "lastSeen"
)

const maxClaimAttempts = 5

// RedisStatusRepository keeps device status in a hash per device and the
// recent uploads in a sorted set scored by record timestamp.
type RedisStatusRepository struct {
	client *redis.Client
}

// NewRedisStatusRepository connects to Redis and checks the connection.
func NewRedisStatusRepository(ctx context.Context, addr, password string, db int) (*RedisStatusRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", addr, err)
	}
	return &RedisStatusRepository{client: client}, nil
}

func statusKey(deviceID string) string {
	return fmt.Sprintf("device:%s:status", deviceID)
}

func uploadsKey(deviceID string) string {
	return fmt.Sprintf("device:%s:uploads", deviceID)
}

// Touch implements StatusRepository.
func (r *RedisStatusRepository) Touch(ctx context.Context, deviceID string, seen time.Time) (models.DeviceStatus, error) {
	key := statusKey(deviceID)
	var all *redis.StringStringMapCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldBlocked, "0")
		pipe.HSet(ctx, key, fieldLastSeen, seen.UnixMilli())
		all = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return models.DeviceStatus{}, fmt.Errorf("failed to touch status for %s: %w", deviceID, err)
	}
	return parseStatus(deviceID, all.Val()), nil
}

// Get implements StatusRepository.
func (r *RedisStatusRepository) Get(ctx context.Context, deviceID string) (models.DeviceStatus, bool, error) {
	values, err := r.client.HGetAll(ctx, statusKey(deviceID)).Result()
	if err != nil {
		return models.DeviceStatus{}, false, fmt.Errorf("failed to read status for %s: %w", deviceID, err)
	}
	if len(values) == 0 {
		return models.DeviceStatus{}, false, nil
	}
	return parseStatus(deviceID, values), true, nil
}

// Block implements StatusRepository.
func (r *RedisStatusRepository) Block(ctx context.Context, deviceID, reason string, at time.Time) error {
	err := r.client.HSet(ctx, statusKey(deviceID),
		fieldBlocked, "1",
		fieldBlockedReason, reason,
		fieldBlockedAt, at.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to block %s: %w", deviceID, err)
	}
	return nil
}

// Unblock implements StatusRepository. blockedAt is kept as history.
func (r *RedisStatusRepository) Unblock(ctx context.Context, deviceID string) error {
	key := statusKey(deviceID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldBlocked, "0")
		pipe.HDel(ctx, key, fieldBlockedReason, fieldLastTimestamp)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to unblock %s: %w", deviceID, err)
	}
	return nil
}

// ClaimTimestamp implements StatusRepository. The read and the write run in
// one WATCH transaction; a concurrent change to the status hash retries it.
func (r *RedisStatusRepository) ClaimTimestamp(ctx context.Context, deviceID string, timestamp int64) (bool, error) {
	key := statusKey(deviceID)
	want := strconv.FormatInt(timestamp, 10)

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		claimed := false
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			last, err := tx.HGet(ctx, key, fieldLastTimestamp).Result()
			if err != nil && err != redis.Nil {
				return err
			}
			if last == want {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fieldLastTimestamp, timestamp)
				return nil
			})
			claimed = err == nil
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to claim timestamp for %s: %w", deviceID, err)
		}
		return claimed, nil
	}
	return false, fmt.Errorf("failed to claim timestamp for %s: status changed %d times", deviceID, maxClaimAttempts)
}

// RecordUpload implements StatusRepository.
func (r *RedisStatusRepository) RecordUpload(ctx context.Context, deviceID, uploadID string, timestamp int64, window time.Duration) (int64, error) {
	key := uploadsKey(deviceID)
	since := timestamp - int64(window/time.Second)

	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(timestamp), Member: uploadID})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(since, 10))
		count = pipe.ZCount(ctx, key, strconv.FormatInt(since, 10), "+inf")
		pipe.Expire(ctx, key, 2*window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record upload for %s: %w", deviceID, err)
	}
	return count.Val(), nil
}

// Close releases the client.
func (r *RedisStatusRepository) Close() error {
	return r.client.Close()
}

func parseStatus(deviceID string, values map[string]string) models.DeviceStatus {
	parseInt := func(field string) int64 {
		n, _ := strconv.ParseInt(values[field], 10, 64)
		return n
	}
	return models.DeviceStatus{
		DeviceID:      deviceID,
		Blocked:       values[fieldBlocked] == "1",
		BlockedReason: values[fieldBlockedReason],
		BlockedAt:     parseInt(fieldBlockedAt),
		LastTimestamp: parseInt(fieldLastTimestamp),
		LastSeen:      parseInt(fieldLastSeen),
	}
}
