package routes_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CapIot.occupancy/internal/controller"
	"CapIot.occupancy/internal/models"
	"CapIot.occupancy/internal/routes"
	"CapIot.occupancy/internal/service"
	"CapIot.occupancy/internal/state"
	"CapIot.occupancy/internal/utils"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func serve(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAgentRouter(t *testing.T) {
	s := state.New()
	router := routes.SetupAgentRouter(controller.NewIngestController(s, discard))

	rec := serve(router, http.MethodPost, "/update", `{"peopleEntered":4,"peopleExited":1}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.Counts{PeopleEntered: 4, PeopleExited: 1}, s.Snapshot())

	rec = serve(router, http.MethodGet, "/state", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"peopleEntered":4,"peopleExited":1}`, rec.Body.String())

	rec = serve(router, http.MethodGet, "/update", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())

	rec = serve(router, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWithCORS(t *testing.T) {
	router := routes.SetupAgentRouter(controller.NewIngestController(state.New(), discard))
	handler := routes.WithCORS(router, []string{"http://dashboard.local"})

	rec := serve(handler, http.MethodGet, "/health", "", map[string]string{"Origin": "http://dashboard.local"})
	require.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(handler, http.MethodGet, "/health", "", map[string]string{"Origin": "http://evil.local"})
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type stubStatus struct {
	statuses map[string]models.DeviceStatus
}

func (s *stubStatus) Touch(_ context.Context, id string, _ time.Time) (models.DeviceStatus, error) {
	return s.statuses[id], nil
}

func (s *stubStatus) Get(_ context.Context, id string) (models.DeviceStatus, bool, error) {
	st, ok := s.statuses[id]
	return st, ok, nil
}

func (s *stubStatus) Block(context.Context, string, string, time.Time) error { return nil }

func (s *stubStatus) Unblock(_ context.Context, id string) error {
	s.statuses[id] = models.DeviceStatus{DeviceID: id}
	return nil
}

func (s *stubStatus) ClaimTimestamp(context.Context, string, int64) (bool, error) { return true, nil }

func (s *stubStatus) RecordUpload(context.Context, string, string, int64, time.Duration) (int64, error) {
	return 1, nil
}

type stubLogs struct{}

func (stubLogs) WriteOccupancy(context.Context, models.OccupancyLog) error { return nil }

func requireBearerOK(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ok" {
			utils.RespondWithError(w, models.NewAPIError(models.ErrorCodeUnauthorized, "Invalid token", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func TestCollectorRouter(t *testing.T) {
	status := &stubStatus{statuses: map[string]models.DeviceStatus{
		"bus001": {DeviceID: "bus001", Blocked: true, BlockedReason: service.ReasonDuplicateTimestamp},
	}}
	svc := service.NewCollectorService(status, stubLogs{}, service.CollectorOptions{Logger: discard})
	router := routes.SetupCollectorRouter(controller.NewCollectorController(svc, discard), requireBearerOK)
	auth := map[string]string{"Authorization": "Bearer ok"}

	rec := serve(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodPost, "/upload", `{}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing fields", rec.Body.String())

	rec = serve(router, http.MethodGet, "/devices/bus001/status", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, http.MethodPost, "/devices/bus001/unblock", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.True(t, status.statuses["bus001"].Blocked)

	rec = serve(router, http.MethodGet, "/devices/bus001/status", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"blocked":true`)

	rec = serve(router, http.MethodPost, "/devices/bus001/unblock", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true}`, rec.Body.String())
	require.False(t, status.statuses["bus001"].Blocked)
}
