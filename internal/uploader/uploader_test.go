package uploader_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"CapIot.occupancy/internal/codec"
	"CapIot.occupancy/internal/models"
	"CapIot.occupancy/internal/state"
	"CapIot.occupancy/internal/transport"
	"CapIot.occupancy/internal/uploader"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	vectorTimestamp = 1700000000
	vectorHex       = "E2BBFDFCEFF0FAFCD0FDBBA3BBFBECEAA9A9A8BBB5BBEDF0F4FCEAEDF8F4E9BBA3A8AEA9A9A9A9A9A9A9A9B5BBF2FCE0D0FDBBA3ABA1AAAAAAAAAAB5BBE9F8E0F5F6F8FDBBA3E2BBE9FCF6E9F5FCDCF7EDFCEBFCFDBBA3A8ABB5BBE9FCF6E9F5FCDCE1F0EDFCFDBBA3AAE4E4"
)

var errNetwork = errors.New("connection refused")

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Send(ctx context.Context, env models.EncryptedEnvelope) (transport.Response, error) {
	args := m.Called(ctx, env)
	return args.Get(0).(transport.Response), args.Error(1)
}

// funcTransport lets a test script each call.
type funcTransport struct {
	mu    sync.Mutex
	calls []models.EncryptedEnvelope
	fn    func(ctx context.Context, call int) (transport.Response, error)
}

func (f *funcTransport) Send(ctx context.Context, env models.EncryptedEnvelope) (transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, env)
	n := len(f.calls)
	f.mu.Unlock()
	return f.fn(ctx, n)
}

func (f *funcTransport) Calls() []models.EncryptedEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.EncryptedEnvelope(nil), f.calls...)
}

func intPtr(v int) *int { return &v }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time { return time.Unix(vectorTimestamp, 0) }

func TestRunCycleEndToEnd(t *testing.T) {
	s := state.New()
	s.Replace(intPtr(12), intPtr(3))

	want := models.EncryptedEnvelope{DeviceID: "bus001", KeyID: 2833333, Encrypted: vectorHex}
	m := new(MockTransport)
	m.On("Send", mock.Anything, want).Return(transport.Response{StatusCode: http.StatusOK, Body: "OK"}, nil)

	u, err := uploader.New(uploader.Config{DeviceID: "bus001", Interval: time.Second, Timeout: time.Second}, s, m,
		uploader.WithLogger(quietLogger()),
		uploader.WithClock(fixedClock),
	)
	require.NoError(t, err)

	res := u.RunCycle(context.Background())
	require.NoError(t, res.Err)
	require.Equal(t, uint64(1), res.Cycle)
	require.Equal(t, int64(vectorTimestamp), res.Timestamp)
	require.Equal(t, int64(2833333), res.KeyID)
	require.Equal(t, models.Counts{PeopleEntered: 12, PeopleExited: 3}, res.Counts)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "OK", res.Body)
	m.AssertNumberOfCalls(t, "Send", 1)
}

func TestNon2xxIsCompletedCycle(t *testing.T) {
	m := new(MockTransport)
	m.On("Send", mock.Anything, mock.Anything).Return(transport.Response{StatusCode: http.StatusInternalServerError, Body: "Server error"}, nil)

	u, err := uploader.New(uploader.Config{DeviceID: "bus001", Interval: time.Second, Timeout: time.Second}, state.New(), m,
		uploader.WithLogger(quietLogger()),
	)
	require.NoError(t, err)

	res := u.RunCycle(context.Background())
	require.NoError(t, res.Err)
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)

	stats := u.Stats()
	require.Equal(t, uint64(1), stats.Completed)
	require.Equal(t, uint64(0), stats.Failed)
	require.Equal(t, http.StatusInternalServerError, stats.LastStatus)
}

func TestFailureIsolation(t *testing.T) {
	s := state.New()
	s.Replace(intPtr(1), intPtr(0))

	tr := &funcTransport{fn: func(_ context.Context, call int) (transport.Response, error) {
		if call == 1 {
			return transport.Response{}, errNetwork
		}
		return transport.Response{StatusCode: http.StatusOK, Body: "OK"}, nil
	}}

	results := make(chan uploader.CycleResult, 16)
	u, err := uploader.New(uploader.Config{DeviceID: "bus001", Interval: 5 * time.Millisecond, Timeout: time.Second}, s, tr,
		uploader.WithLogger(quietLogger()),
		uploader.WithObserver(func(r uploader.CycleResult) {
			if r.Cycle == 1 {
				// arrives between cycle 1 and cycle 2
				s.Replace(intPtr(8), intPtr(2))
			}
			results <- r
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	first := <-results
	second := <-results
	third := <-results
	cancel()
	<-done

	require.ErrorIs(t, first.Err, errNetwork)
	require.Equal(t, models.Counts{PeopleEntered: 1, PeopleExited: 0}, first.Counts)

	require.NoError(t, second.Err)
	require.Equal(t, uint64(2), second.Cycle)
	require.Equal(t, models.Counts{PeopleEntered: 8, PeopleExited: 2}, second.Counts)
	require.NoError(t, third.Err)

	opened, err := codec.Open(tr.Calls()[1])
	require.NoError(t, err)
	require.Equal(t, models.Counts{PeopleEntered: 8, PeopleExited: 2}, opened.Payload)

	stats := u.Stats()
	require.Equal(t, uint64(1), stats.Failed)
	require.GreaterOrEqual(t, stats.Completed, uint64(2))
	require.Equal(t, errNetwork.Error(), stats.LastError)
}

func TestStalledTransportIsBoundedByTimeout(t *testing.T) {
	tr := &funcTransport{fn: func(ctx context.Context, _ int) (transport.Response, error) {
		<-ctx.Done()
		return transport.Response{}, ctx.Err()
	}}

	results := make(chan uploader.CycleResult, 16)
	u, err := uploader.New(uploader.Config{DeviceID: "bus001", Interval: 5 * time.Millisecond, Timeout: 20 * time.Millisecond}, state.New(), tr,
		uploader.WithLogger(quietLogger()),
		uploader.WithObserver(func(r uploader.CycleResult) { results <- r }),
	)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, u.Start(context.Background()))
	first := <-results
	second := <-results
	u.Stop()

	require.ErrorIs(t, first.Err, context.DeadlineExceeded)
	require.ErrorIs(t, second.Err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestBuildFailureIsReportedNotSent(t *testing.T) {
	m := new(MockTransport)
	u, err := uploader.New(uploader.Config{DeviceID: "bus001", Interval: time.Second, Timeout: time.Second}, state.New(), m,
		uploader.WithLogger(quietLogger()),
		uploader.WithSealer(func(models.TelemetryRecord) (models.EncryptedEnvelope, error) {
			return models.EncryptedEnvelope{}, errors.New("encoder broken")
		}),
	)
	require.NoError(t, err)

	res := u.RunCycle(context.Background())
	require.ErrorIs(t, res.Err, uploader.ErrBuildEnvelope)
	m.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	require.Equal(t, uint64(1), u.Stats().Failed)
}

func TestStartStop(t *testing.T) {
	m := new(MockTransport)
	m.On("Send", mock.Anything, mock.Anything).Return(transport.Response{StatusCode: http.StatusOK}, nil)

	u, err := uploader.New(uploader.Config{DeviceID: "bus001", Interval: time.Millisecond, Timeout: time.Second}, state.New(), m,
		uploader.WithLogger(quietLogger()),
	)
	require.NoError(t, err)

	require.NoError(t, u.Start(context.Background()))
	require.Error(t, u.Start(context.Background()))

	require.Eventually(t, func() bool { return u.Stats().Cycles >= 2 }, time.Second, time.Millisecond)
	u.Stop()
	u.Stop()

	after := u.Stats().Cycles
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, u.Stats().Cycles)

	require.NoError(t, u.Start(context.Background()))
	u.Stop()
}

func TestNewValidatesConfig(t *testing.T) {
	m := new(MockTransport)
	for _, cfg := range []uploader.Config{
		{Interval: time.Second, Timeout: time.Second},
		{DeviceID: "bus001", Timeout: time.Second},
		{DeviceID: "bus001", Interval: time.Second},
	} {
		_, err := uploader.New(cfg, state.New(), m)
		require.Error(t, err)
	}

	_, err := uploader.New(uploader.Config{DeviceID: "bus001", Interval: time.Second, Timeout: time.Second}, nil, m)
	require.Error(t, err)
}
