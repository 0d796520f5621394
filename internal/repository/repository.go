// Package repository persists what the collector accepts: device status in
// Redis and occupancy logs in InfluxDB.
package repository

import (
	"context"
	"time"

	"CapIot.occupancy/internal/models"
)

// StatusRepository tracks per-device status and the recent upload window.
type StatusRepository interface {
	// Touch creates the status if absent (unblocked), records lastSeen and
	// returns the current status.
	Touch(ctx context.Context, deviceID string, seen time.Time) (models.DeviceStatus, error)
	Get(ctx context.Context, deviceID string) (models.DeviceStatus, bool, error)
	Block(ctx context.Context, deviceID, reason string, at time.Time) error
	Unblock(ctx context.Context, deviceID string) error
	// ClaimTimestamp stores timestamp as the last accepted one in a single
	// atomic step. It returns false and changes nothing when timestamp equals
	// the stored value.
	ClaimTimestamp(ctx context.Context, deviceID string, timestamp int64) (bool, error)
	// RecordUpload adds an upload to the device window and returns how many
	// uploads have a timestamp within window of the given one.
	RecordUpload(ctx context.Context, deviceID, uploadID string, timestamp int64, window time.Duration) (int64, error)
}

// LogRepository stores accepted occupancy logs.
type LogRepository interface {
	WriteOccupancy(ctx context.Context, entry models.OccupancyLog) error
}
