package sender_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"CapIot.occupancy/internal/codec"
	"CapIot.occupancy/internal/models"
	"CapIot.occupancy/internal/sender"
	"CapIot.occupancy/internal/transport"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu        sync.Mutex
	envelopes []models.EncryptedEnvelope
	failOn    map[int]error
}

func (r *recordingTransport) Send(_ context.Context, env models.EncryptedEnvelope) (transport.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
	if err := r.failOn[len(r.envelopes)]; err != nil {
		return transport.Response{}, err
	}
	return transport.Response{StatusCode: 200, Body: "OK"}, nil
}

func newSender(tr transport.Transport) *sender.Sender {
	return sender.New("bus001", tr, time.Second,
		sender.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		sender.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
}

func TestDefaultCases(t *testing.T) {
	cases := sender.DefaultCases()
	require.Len(t, cases, 5)
	require.Equal(t, sender.Case{Name: "negative-entered", PeopleEntered: -5, PeopleExited: 2}, cases[1])
	require.Equal(t, 300, cases[4].PeopleEntered)
}

func TestSendSealsCase(t *testing.T) {
	tr := &recordingTransport{}
	s := newSender(tr)

	resp, err := s.Send(context.Background(), sender.Case{Name: "x", PeopleEntered: 12, PeopleExited: 3})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Len(t, tr.envelopes, 1)

	record, err := codec.Open(tr.envelopes[0])
	require.NoError(t, err)
	require.Equal(t, "bus001", record.DeviceID)
	require.Equal(t, int64(1700000000), record.Timestamp)
	require.Equal(t, models.Counts{PeopleEntered: 12, PeopleExited: 3}, record.Payload)
}

func TestRunContinuesAfterFailure(t *testing.T) {
	tr := &recordingTransport{failOn: map[int]error{2: errors.New("connection refused")}}
	s := newSender(tr)

	summary := s.Run(context.Background(), sender.DefaultCases(), 0)
	require.Equal(t, sender.Summary{Sent: 4, Failed: 1}, summary)
	require.Len(t, tr.envelopes, 5)

	record, err := codec.Open(tr.envelopes[1])
	require.NoError(t, err)
	require.Equal(t, -5, record.Payload.PeopleEntered)
}

func TestRunStopsOnCancel(t *testing.T) {
	tr := &recordingTransport{}
	s := newSender(tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan sender.Summary)
	go func() { done <- s.Run(ctx, sender.DefaultCases(), time.Hour) }()

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.envelopes) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case summary := <-done:
		require.Equal(t, 1, summary.Sent)
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestLoadCases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- name: overflow
  peopleEntered: 9999
  peopleExited: 0
- peopleEntered: 1
  peopleExited: 2
`), 0o600))

	cases, err := sender.LoadCases(path)
	require.NoError(t, err)
	require.Equal(t, []sender.Case{
		{Name: "overflow", PeopleEntered: 9999, PeopleExited: 0},
		{Name: "case-2", PeopleEntered: 1, PeopleExited: 2},
	}, cases)
}

func TestLoadCasesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := sender.LoadCases(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("[]\n"), 0o600))
	_, err = sender.LoadCases(empty)
	require.ErrorContains(t, err, "no cases")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: not-a-list\n"), 0o600))
	_, err = sender.LoadCases(bad)
	require.Error(t, err)
}
