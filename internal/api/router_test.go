package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldtrack/internal/core"
	"fieldtrack/internal/export"
	"fieldtrack/internal/store"
)

const testToken = "secret"

type apiEnv struct {
	handler http.Handler
	store   *store.Store
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithLocation(time.UTC),
		core.WithClock(func() time.Time { return now }),
	}
	srv, err := NewServer("127.0.0.1:0", testToken, Dependencies{
		Store:       st,
		Assignments: core.NewAssignmentService(st, opts...),
		Ingestor:    core.NewIngestor(st, opts...),
		Analytics:   core.NewAnalytics(st, opts...),
		Logger:      logger,
		Location:    time.UTC,
	})
	require.NoError(t, err)

	require.NoError(t, st.UpsertUser(ctx, &core.User{ID: "boss", Name: "Boss", Role: core.RoleSupervisor}))
	require.NoError(t, st.UpsertUser(ctx, &core.User{ID: "u1", Name: "Ana", Role: core.RoleWorker}))
	require.NoError(t, st.UpsertUser(ctx, &core.User{ID: "u2", Name: "Ben", Role: core.RoleWorker}))
	return &apiEnv{handler: srv.Handler(), store: st}
}

func (e *apiEnv) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// startedAssignment registers a task and returns an in-progress assignment for u1 and u2.
func (e *apiEnv) startedAssignment(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/tasks", "boss", map[string]any{"id": "t1", "title": "Meter reading"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/v1/assignments", "boss", map[string]any{
		"task_id":  "t1",
		"user_ids": []string{"u1", "u2"},
		"date":     "2026-03-02",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[assignmentResponse](t, rec)
	assert.Equal(t, "pending", created.ComputedStatus)

	rec = e.do(t, http.MethodPost, "/v1/assignments/"+created.ID+"/start", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decodeBody[assignmentResponse](t, rec)
	assert.Equal(t, "in_progress", started.Status)
	assert.Equal(t, "in progress", started.ComputedStatus)
	return created.ID
}

func TestAuthAndActorResolution(t *testing.T) {
	env := newAPIEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/assignments", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/assignments", "ghost", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeBody[errorBody](t, rec).Error.Code)

	rec = env.do(t, http.MethodGet, "/v1/assignments/mine", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTaskAndUserRegistration(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/tasks", "u1", map[string]any{"title": "Nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tasks", "boss", map[string]any{"id": "t1", "title": "Patrol", "scheduled_start": "08:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/tasks", "boss", map[string]any{"id": "t1", "title": "Patrol", "scheduled_start": "08:00", "scheduled_end": "17:00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	task := decodeBody[taskResponse](t, rec)
	require.NotNil(t, task.ScheduledStart)
	assert.Equal(t, "08:00:00", *task.ScheduledStart)

	rec = env.do(t, http.MethodPost, "/v1/tasks", "boss", map[string]any{"id": "t1", "title": "Patrol"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/tasks/missing", "boss", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/users/u9", "boss", map[string]any{"name": "Cleo"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "worker", decodeBody[userResponse](t, rec).Role)

	rec = env.do(t, http.MethodPut, "/v1/users/u9", "boss", map[string]any{"name": "Cleo", "role": "owner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignmentLifecycleEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	id := env.startedAssignment(t)

	rec := env.do(t, http.MethodPost, "/v1/assignments/"+id+"/start", "u2", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeBody[errorBody](t, rec).Error.Code)

	rec = env.do(t, http.MethodGet, "/v1/assignments/mine?status=in_progress", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Data []assignmentResponse `json:"data"`
		Meta pageMeta             `json:"meta"`
	}](t, rec)
	require.Len(t, list.Data, 1)
	assert.Equal(t, 1, list.Meta.Total)
	assert.Equal(t, "Meter reading", list.Data[0].Task.Title)

	rec = env.do(t, http.MethodGet, "/v1/assignments?status=paused", "boss", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/assignments/"+id, "u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/assignments/"+id+"/report-filed", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	done := decodeBody[assignmentResponse](t, rec)
	assert.Equal(t, "completed", done.Status)
	require.NotNil(t, done.EndTime)

	rec = env.do(t, http.MethodPost, "/v1/assignments/"+id+"/complete", "u1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/assignments/"+id, "boss", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/assignments/missing", "boss", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordLocationEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	id := env.startedAssignment(t)

	rec := env.do(t, http.MethodPost, "/v1/locations", "u1", map[string]any{
		"assignment_id": id, "latitude": 0.0, "longitude": 0.0, "recorded_at": "2026-03-02T09:31:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sample := decodeBody[locationResponse](t, rec)
	assert.Equal(t, "u1", sample.UserID)
	assert.Equal(t, "auto", sample.TrackingStatus)

	rec = env.do(t, http.MethodPost, "/v1/locations", "u1", map[string]any{"assignment_id": id, "longitude": 0.0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/locations", "u1", map[string]any{"assignment_id": id, "latitude": 0.0, "longitude": 0.0, "speed": 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/locations/batch", "u1", map[string]any{"locations": []map[string]any{
		{"assignment_id": id, "latitude": 1.0, "longitude": 0.0, "recorded_at": "2026-03-02T09:32:00Z"},
		{"assignment_id": id, "longitude": 0.0},
		{"assignment_id": id, "latitude": 120.0, "longitude": 0.0},
		{"assignment_id": "missing", "latitude": 1.0, "longitude": 0.0},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	batch := decodeBody[batchResponse](t, rec)
	assert.Equal(t, "partial_success", batch.Status)
	assert.Equal(t, 1, batch.CreatedCount)
	assert.Equal(t, 3, batch.ErrorCount)
	require.Len(t, batch.Errors, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{batch.Errors[0].Index, batch.Errors[1].Index, batch.Errors[2].Index})
	assert.Equal(t, "validation_error", batch.Errors[0].Code)
	assert.Equal(t, "validation_error", batch.Errors[1].Code)
	assert.Equal(t, "not_found", batch.Errors[2].Code)

	rec = env.do(t, http.MethodPost, "/v1/locations/batch", "u1", map[string]any{"locations": []map[string]any{
		{"assignment_id": id, "longitude": 0.0},
	}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "failure", decodeBody[batchResponse](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/v1/locations/batch", "u1", map[string]any{"locations": []map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/assignments/"+id+"/route?user_id=u1", "boss", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	route := decodeBody[routeResponse](t, rec)
	assert.Equal(t, 2, route.TotalPoints)
	assert.InDelta(t, 111.19, route.TotalDistanceKm, 0.001)

	rec = env.do(t, http.MethodGet, "/v1/assignments/"+id+"/route/export?user_id=u1", "boss", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "route_"+id+"_u1.xlsx")

	rec = env.do(t, http.MethodGet, "/v1/assignments/"+id+"/locations/current", "boss", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeBody[[]currentLocationResponse](t, rec)
	require.Len(t, current, 2)
	require.NotNil(t, current[0].Location)
	assert.Equal(t, 1.0, current[0].Location.Latitude)
	assert.Nil(t, current[1].Location)

	rec = env.do(t, http.MethodGet, "/v1/stats/locations?assignment_id="+id, "boss", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[statsResponse](t, rec)
	assert.Equal(t, 2, stats.TotalLocations)
	assert.Equal(t, []countEntry{{ID: "u1", Count: 2}}, stats.ByUser)

	rec = env.do(t, http.MethodPost, "/v1/assignments/"+id+"/complete", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/locations", "u1", map[string]any{"assignment_id": id, "latitude": 0.0, "longitude": 0.0})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_trackable", decodeBody[errorBody](t, rec).Error.Code)
}

func TestRecordBatchKeepsValidItemsBesideMalformedOnes(t *testing.T) {
	env := newAPIEnv(t)
	id := env.startedAssignment(t)

	rec := env.do(t, http.MethodPost, "/v1/locations/batch", "u1", map[string]any{"locations": []any{
		map[string]any{"assignment_id": id, "latitude": 1.0, "longitude": 0.0},
		map[string]any{"assignment_id": id, "latitude": "ten", "longitude": 0.0},
		map[string]any{"assignment_id": id, "latitude": 2.0, "longitude": 0.0, "speed": 3},
		"not an object",
		map[string]any{"assignment_id": id, "latitude": 3.0, "longitude": 0.0},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	batch := decodeBody[batchResponse](t, rec)
	assert.Equal(t, "partial_success", batch.Status)
	assert.Equal(t, 2, batch.CreatedCount)
	assert.Equal(t, 3, batch.ErrorCount)
	require.Len(t, batch.Errors, 3)
	for i, want := range []int{1, 2, 3} {
		assert.Equal(t, want, batch.Errors[i].Index)
		assert.Equal(t, "validation_error", batch.Errors[i].Code)
	}
	assert.Contains(t, batch.Errors[0].Reason, "latitude")
	assert.Contains(t, batch.Errors[1].Reason, "speed")

	samples, err := env.store.ListLocations(context.Background(), core.LocationQuery{AssignmentID: id})
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestNearbyEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	id := env.startedAssignment(t)

	for _, lat := range []float64{0, 0.01, 1} {
		rec := env.do(t, http.MethodPost, "/v1/locations", "u1", map[string]any{"assignment_id": id, "latitude": lat, "longitude": 0.0})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/locations/nearby?latitude=0&longitude=0", "boss", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/locations/nearby?latitude=0&longitude=0&radius_km=60", "boss", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/locations/nearby?latitude=0&longitude=0&radius_km=5", "boss", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[struct {
		Data []nearbyResponse `json:"data"`
		Meta pageMeta         `json:"meta"`
	}](t, rec)
	require.Len(t, page.Data, 2)
	assert.Equal(t, 0.0, page.Data[0].DistanceKm)
	assert.InDelta(t, 1.11, page.Data[1].DistanceKm, 0.01)
}

func TestMergeBatchErrorsKeepsInputOrder(t *testing.T) {
	decodeErrors := []batchItemError{{Index: 0, Code: "validation_error"}, {Index: 3, Code: "validation_error"}}
	itemErrors := []core.BatchItemError{{Index: 1, Code: "not_found"}}
	// positions maps ingestor indexes to request indexes
	merged := mergeBatchErrors(decodeErrors, itemErrors, []int{1, 2, 4})
	require.Len(t, merged, 3)
	assert.Equal(t, 0, merged[0].Index)
	assert.Equal(t, 2, merged[1].Index)
	assert.Equal(t, "not_found", merged[1].Code)
	assert.Equal(t, 3, merged[2].Index)
}
