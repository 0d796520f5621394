// Package sender transmits hand-crafted occupancy snapshots through the same
// codec and transport as the agent, to exercise the collector's checks.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"CapIot.occupancy/internal/codec"
	"CapIot.occupancy/internal/models"
	"CapIot.occupancy/internal/transport"
)

// Option configures a Sender.
type Option func(*Sender)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sender) { s.logger = logger }
}

// WithClock replaces time.Now, used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sender) { s.now = now }
}

// Sender seals and sends cases for one device.
type Sender struct {
	deviceID  string
	transport transport.Transport
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Summary counts the outcome of a Run.
type Summary struct {
	Sent   int
	Failed int
}

// New creates a Sender.
func New(deviceID string, tr transport.Transport, timeout time.Duration, opts ...Option) *Sender {
	s := &Sender{
		deviceID:  deviceID,
		transport: tr,
		timeout:   timeout,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send transmits one case stamped with the current time.
func (s *Sender) Send(ctx context.Context, c Case) (transport.Response, error) {
	counts := models.Counts{PeopleEntered: c.PeopleEntered, PeopleExited: c.PeopleExited}
	record := codec.NewRecord(s.deviceID, s.now().Unix(), counts)

	s.logger.Info("sending abnormal payload",
		"case", c.Name,
		"device_id", record.DeviceID,
		"timestamp", record.Timestamp,
		"key_id", record.KeyID,
		"people_entered", counts.PeopleEntered,
		"people_exited", counts.PeopleExited,
	)

	envelope, err := codec.Seal(record)
	if err != nil {
		return transport.Response{}, fmt.Errorf("failed to seal case %s: %w", c.Name, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.transport.Send(ctx, envelope)
	if err != nil {
		return transport.Response{}, err
	}

	s.logger.Info("uploaded",
		"case", c.Name,
		"status", resp.StatusCode,
		"response", resp.Body,
		"latency_ms", resp.Latency.Milliseconds(),
	)
	return resp, nil
}

// Run sends every case in order, waiting cadence between them. A failed case
// is logged and the run moves on; cancelling ctx ends the run early.
func (s *Sender) Run(ctx context.Context, cases []Case, cadence time.Duration) Summary {
	var summary Summary

	for i, c := range cases {
		if i > 0 && cadence > 0 {
			select {
			case <-ctx.Done():
				return summary
			case <-time.After(cadence):
			}
		}
		if ctx.Err() != nil {
			return summary
		}

		if _, err := s.Send(ctx, c); err != nil {
			summary.Failed++
			s.logger.Warn("abnormal payload failed", "case", c.Name, "error", err)
			continue
		}
		summary.Sent++
	}
	return summary
}
