package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"CapIot.occupancy/internal/models"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const occupancyMeasurement = "occupancy"

// InfluxLogRepository writes occupancy logs to an InfluxDB bucket.
type InfluxLogRepository struct {
	client influxdb2.Client
	org    string
	bucket string
	logger *slog.Logger
}

// NewInfluxLogRepository creates a new InfluxLogRepository.
func NewInfluxLogRepository(url, token, org, bucket string, logger *slog.Logger) *InfluxLogRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &InfluxLogRepository{
		client: influxdb2.NewClient(url, token),
		org:    org,
		bucket: bucket,
		logger: logger,
	}
}

// Health checks the connection to InfluxDB.
func (r *InfluxLogRepository) Health(ctx context.Context) error {
	health, err := r.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("InfluxDB health check failed: %s", msg)
	}
	return nil
}

// EnsureBucket creates the configured bucket when it does not exist yet.
func (r *InfluxLogRepository) EnsureBucket(ctx context.Context) error {
	exists, err := r.bucketExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	org, err := r.client.OrganizationsAPI().FindOrganizationByName(ctx, r.org)
	if err != nil {
		return fmt.Errorf("error finding organization '%s': %w", r.org, err)
	}
	if org == nil {
		return fmt.Errorf("organization '%s' not found", r.org)
	}

	if _, err := r.client.BucketsAPI().CreateBucketWithName(ctx, org, r.bucket); err != nil {
		return fmt.Errorf("error creating bucket '%s': %w", r.bucket, err)
	}
	r.logger.Info("bucket created", "bucket", r.bucket, "org", r.org)
	return nil
}

func (r *InfluxLogRepository) bucketExists(ctx context.Context) (bool, error) {
	_, err := r.client.BucketsAPI().FindBucketByName(ctx, r.bucket)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return false, nil
		}
		return false, fmt.Errorf("error checking bucket existence: %w", err)
	}
	return true, nil
}

// WriteOccupancy writes one log as a point stamped with the record timestamp.
func (r *InfluxLogRepository) WriteOccupancy(ctx context.Context, entry models.OccupancyLog) error {
	writeAPI := r.client.WriteAPIBlocking(r.org, r.bucket)
	if err := writeAPI.WritePoint(ctx, occupancyPoint(entry)); err != nil {
		return fmt.Errorf("error writing to InfluxDB: %w", err)
	}
	r.logger.Debug("occupancy point written",
		"bucket", r.bucket,
		"device_id", entry.DeviceID,
		"log_id", entry.ID,
	)
	return nil
}

// Close releases the client.
func (r *InfluxLogRepository) Close() {
	r.client.Close()
}

func occupancyPoint(entry models.OccupancyLog) *write.Point {
	return influxdb2.NewPoint(
		occupancyMeasurement,
		map[string]string{"device_id": entry.DeviceID},
		map[string]interface{}{
			"people_entered": entry.PeopleEntered,
			"people_exited":  entry.PeopleExited,
			"log_id":         entry.ID,
			"received_at":    entry.ReceivedAt.UnixMilli(),
		},
		time.Unix(entry.Timestamp, 0),
	)
}
