package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"CapIot.occupancy/internal/codec"
	"CapIot.occupancy/internal/models"
	"CapIot.occupancy/internal/repository"
	"github.com/google/uuid"
)

var (
	ErrMissingFields  = errors.New("missing fields")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrClockDrift     = errors.New("clock drift too large")
)

// Block reasons recorded on the device status.
const (
	ReasonDuplicateTimestamp = "Duplicate timestamp"
	ReasonRateLimited        = "Too many logs per minute"
)

// Outcome says what happened to an accepted envelope.
type Outcome string

const (
	OutcomeStored      Outcome = "stored"
	OutcomeBlocked     Outcome = "dropped_blocked"
	OutcomeDuplicate   Outcome = "dropped_duplicate"
	OutcomeRateLimited Outcome = "dropped_rate_limited"
)

// CollectorOptions tunes the acceptance rules.
type CollectorOptions struct {
	MaxClockDrift time.Duration
	RateLimit     int
	RateWindow    time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
}

// CollectorService decodes uploads and decides whether to store them.
type CollectorService struct {
	status     repository.StatusRepository
	logs       repository.LogRepository
	maxDrift   time.Duration
	rateLimit  int
	rateWindow time.Duration
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewCollectorService creates a new CollectorService.
func NewCollectorService(status repository.StatusRepository, logs repository.LogRepository, opts CollectorOptions) *CollectorService {
	s := &CollectorService{
		status:     status,
		logs:       logs,
		maxDrift:   opts.MaxClockDrift,
		rateLimit:  opts.RateLimit,
		rateWindow: opts.RateWindow,
		logger:     opts.Logger,
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if s.maxDrift <= 0 {
		s.maxDrift = 120 * time.Second
	}
	if s.rateLimit <= 0 {
		s.rateLimit = 15
	}
	if s.rateWindow <= 0 {
		s.rateWindow = time.Minute
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Ingest validates and decodes one envelope, then applies the blocking,
// duplicate and rate rules before storing the log. Dropped uploads are not
// errors; the returned Outcome tells them apart.
func (s *CollectorService) Ingest(ctx context.Context, envelope models.EncryptedEnvelope) (Outcome, error) {
	if envelope.DeviceID == "" || envelope.KeyID == 0 || envelope.Encrypted == "" {
		return "", ErrMissingFields
	}

	record, err := codec.Open(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	now := s.now()
	maxSecs := int64(s.maxDrift / time.Second)
	if record.Timestamp == 0 || record.Timestamp < now.Unix()-maxSecs || record.Timestamp > now.Unix()+maxSecs {
		return "", fmt.Errorf("%w: timestamp %d, now %d", ErrClockDrift, record.Timestamp, now.Unix())
	}

	deviceID := envelope.DeviceID
	status, err := s.status.Touch(ctx, deviceID, now)
	if err != nil {
		return "", err
	}

	if status.Blocked {
		s.logger.Warn("upload from blocked device dropped", "device_id", deviceID, "reason", status.BlockedReason)
		return OutcomeBlocked, nil
	}

	claimed, err := s.status.ClaimTimestamp(ctx, deviceID, record.Timestamp)
	if err != nil {
		return "", err
	}
	if !claimed {
		if err := s.block(ctx, deviceID, ReasonDuplicateTimestamp, now); err != nil {
			return "", err
		}
		return OutcomeDuplicate, nil
	}

	entry := models.OccupancyLog{
		ID:            s.newID(),
		DeviceID:      deviceID,
		Timestamp:     record.Timestamp,
		PeopleEntered: record.Payload.PeopleEntered,
		PeopleExited:  record.Payload.PeopleExited,
		ReceivedAt:    now,
	}

	count, err := s.status.RecordUpload(ctx, deviceID, entry.ID, record.Timestamp, s.rateWindow)
	if err != nil {
		return "", err
	}
	if count > int64(s.rateLimit) {
		if err := s.block(ctx, deviceID, ReasonRateLimited, now); err != nil {
			return "", err
		}
		return OutcomeRateLimited, nil
	}

	if err := s.logs.WriteOccupancy(ctx, entry); err != nil {
		return "", err
	}

	s.logger.Info("occupancy stored",
		"device_id", deviceID,
		"timestamp", record.Timestamp,
		"people_entered", entry.PeopleEntered,
		"people_exited", entry.PeopleExited,
		"window_count", count,
	)
	return OutcomeStored, nil
}

// Unblock clears the block and the duplicate-detection timestamp.
func (s *CollectorService) Unblock(ctx context.Context, deviceID string) error {
	if err := s.status.Unblock(ctx, deviceID); err != nil {
		return err
	}
	s.logger.Info("device unblocked", "device_id", deviceID)
	return nil
}

// Status returns the stored status of a device.
func (s *CollectorService) Status(ctx context.Context, deviceID string) (models.DeviceStatus, bool, error) {
	return s.status.Get(ctx, deviceID)
}

func (s *CollectorService) block(ctx context.Context, deviceID, reason string, at time.Time) error {
	if err := s.status.Block(ctx, deviceID, reason, at); err != nil {
		return err
	}
	s.logger.Warn("device blocked", "device_id", deviceID, "reason", reason)
	return nil
}
