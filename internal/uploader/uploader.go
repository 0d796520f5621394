// Package uploader runs the periodic upload of the occupancy snapshot.
//
// Each cycle waits one interval, snapshots the state, seals a fresh record
// and sends it with a bounded timeout. A failed send is logged and counted,
// then the loop moves on to the next cycle. There is no retry, queue or
// persistence: a lost cycle stays lost.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"CapIot.occupancy/internal/codec"
	"CapIot.occupancy/internal/models"
	"CapIot.occupancy/internal/transport"
)

// ErrBuildEnvelope marks a cycle whose record could not be sealed. State is
// always encodable, so this indicates a defect rather than a transient fault.
var ErrBuildEnvelope = errors.New("failed to build envelope")

// Source provides the snapshot uploaded each cycle.
type Source interface {
	Snapshot() models.Counts
}

// Config holds the uploader settings.
type Config struct {
	DeviceID string
	Interval time.Duration
	Timeout  time.Duration
}

// Validate checks that all fields are usable.
func (c Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("DeviceID required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("Interval must be > 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be > 0")
	}
	return nil
}

// CycleResult describes one upload cycle. Err is nil when the request
// completed, whatever its status code.
type CycleResult struct {
	Cycle      uint64
	Timestamp  int64
	KeyID      int64
	Counts     models.Counts
	StatusCode int
	Body       string
	Latency    time.Duration
	Err        error
}

// Stats are cumulative counters since the uploader was created.
type Stats struct {
	Cycles      uint64
	Completed   uint64
	Failed      uint64
	LastStatus  int
	LastError   string
	LastAttempt time.Time
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Uploader) { u.logger = logger }
}

// WithClock replaces time.Now, used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(u *Uploader) { u.now = now }
}

// WithObserver registers a callback invoked synchronously after each cycle.
func WithObserver(observe func(CycleResult)) Option {
	return func(u *Uploader) { u.observe = observe }
}

// Uploader publishes the occupancy snapshot on a fixed interval.
type Uploader struct {
	cfg       Config
	source    Source
	transport transport.Transport
	logger    *slog.Logger
	now       func() time.Time
	seal      func(models.TelemetryRecord) (models.EncryptedEnvelope, error)
	observe   func(CycleResult)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	stats   Stats
}

// New creates an Uploader. It does not start the loop.
func New(cfg Config, source Source, tr transport.Transport, opts ...Option) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid uploader config: %w", err)
	}
	if source == nil || tr == nil {
		return nil, fmt.Errorf("source and transport are required")
	}

	u := &Uploader{
		cfg:       cfg,
		source:    source,
		transport: tr,
		logger:    slog.Default(),
		now:       time.Now,
		seal:      codec.Seal,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Start runs the loop in a new goroutine until ctx is cancelled or Stop is
// called.
func (u *Uploader) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running {
		return fmt.Errorf("uploader already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	u.running = true
	u.cancel = cancel
	u.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		u.Run(ctx)
		u.mu.Lock()
		u.running = false
		u.mu.Unlock()
	}(u.done)

	u.logger.Info("uploader started",
		"device_id", u.cfg.DeviceID,
		"interval", u.cfg.Interval,
		"timeout", u.cfg.Timeout,
	)
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (u *Uploader) Stop() {
	u.mu.Lock()
	cancel, done := u.cancel, u.done
	u.cancel = nil
	u.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	u.logger.Info("uploader stopped", "device_id", u.cfg.DeviceID)
}

// Run blocks, executing one cycle per interval until ctx is done. The
// interval is measured from the end of the previous cycle.
func (u *Uploader) Run(ctx context.Context) {
	timer := time.NewTimer(u.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		u.RunCycle(ctx)
		timer.Reset(u.cfg.Interval)
	}
}

// RunCycle performs a single snapshot-seal-send cycle. It never panics on
// transport failure and never retries.
func (u *Uploader) RunCycle(ctx context.Context) CycleResult {
	timestamp := u.now().Unix()
	counts := u.source.Snapshot()
	record := codec.NewRecord(u.cfg.DeviceID, timestamp, counts)

	result := CycleResult{
		Timestamp: timestamp,
		KeyID:     record.KeyID,
		Counts:    counts,
	}

	u.logger.Debug("plaintext payload",
		"device_id", record.DeviceID,
		"timestamp", record.Timestamp,
		"key_id", record.KeyID,
		"people_entered", counts.PeopleEntered,
		"people_exited", counts.PeopleExited,
	)

	envelope, err := u.seal(record)
	if err != nil {
		result.Err = fmt.Errorf("%w: %v", ErrBuildEnvelope, err)
		u.logger.Error("envelope construction failed",
			"device_id", record.DeviceID,
			"timestamp", timestamp,
			"error", err,
		)
		return u.finish(result)
	}

	sendCtx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	resp, err := u.transport.Send(sendCtx, envelope)
	cancel()

	if err != nil {
		result.Err = err
		u.logger.Warn("upload failed",
			"device_id", envelope.DeviceID,
			"key_id", envelope.KeyID,
			"error", err,
		)
		return u.finish(result)
	}

	result.StatusCode = resp.StatusCode
	result.Body = resp.Body
	result.Latency = resp.Latency
	u.logger.Info("upload completed",
		"device_id", envelope.DeviceID,
		"key_id", envelope.KeyID,
		"status", resp.StatusCode,
		"response", resp.Body,
		"latency_ms", resp.Latency.Milliseconds(),
	)
	return u.finish(result)
}

// Stats returns a copy of the cumulative counters.
func (u *Uploader) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

func (u *Uploader) finish(result CycleResult) CycleResult {
	u.mu.Lock()
	u.stats.Cycles++
	result.Cycle = u.stats.Cycles
	u.stats.LastAttempt = time.Unix(result.Timestamp, 0)
	if result.Err != nil {
		u.stats.Failed++
		u.stats.LastError = result.Err.Error()
	} else {
		u.stats.Completed++
		u.stats.LastStatus = result.StatusCode
	}
	u.mu.Unlock()

	if u.observe != nil {
		u.observe(result)
	}
	return result
}
