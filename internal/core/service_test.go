package core_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldtrack/internal/core"
	"fieldtrack/internal/store"
)

var (
	worker     = core.Actor{ID: "u1", Role: core.RoleWorker}
	coworker   = core.Actor{ID: "u2", Role: core.RoleWorker}
	outsider   = core.Actor{ID: "u3", Role: core.RoleWorker}
	supervisor = core.Actor{ID: "boss", Role: core.RoleSupervisor}
)

type fixture struct {
	store       *store.Store
	assignments *core.AssignmentService
	ingestor    *core.Ingestor
	analytics   *core.Analytics
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
	opts := []core.Option{
		core.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		core.WithLocation(time.UTC),
		core.WithClock(func() time.Time { return f.now }),
	}
	f.assignments = core.NewAssignmentService(st, opts...)
	f.ingestor = core.NewIngestor(st, opts...)
	f.analytics = core.NewAnalytics(st, opts...)

	for _, u := range []core.Actor{worker, coworker, outsider, supervisor} {
		require.NoError(t, st.UpsertUser(ctx, &core.User{ID: u.ID, Name: u.ID, Role: u.Role}))
	}
	start, _ := core.ParseTimeOfDay("08:00")
	end, _ := core.ParseTimeOfDay("17:00")
	require.NoError(t, st.InsertTask(ctx, &core.Task{ID: "task-day", Title: "Meter reading", ScheduledStart: &start, ScheduledEnd: &end}))
	require.NoError(t, st.InsertTask(ctx, &core.Task{ID: "task-open", Title: "Inventory"}))
	return f
}

func (f *fixture) create(t *testing.T, taskID string, users ...string) *core.AssignmentView {
	t.Helper()
	view, err := f.assignments.Create(context.Background(), supervisor, core.CreateAssignmentRequest{
		TaskID:  taskID,
		UserIDs: users,
		Date:    "2026-03-02",
	})
	require.NoError(t, err)
	return view
}

func (f *fixture) started(t *testing.T, users ...string) *core.AssignmentView {
	t.Helper()
	view := f.create(t, "task-open", users...)
	view, err := f.assignments.Start(context.Background(), view.Assignment.ID, core.Actor{ID: users[0], Role: core.RoleWorker})
	require.NoError(t, err)
	return view
}

func TestCreateAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view := f.create(t, "task-day", "u1", "u2", "u1")
	assert.Equal(t, core.AssignmentStatusPending, view.Assignment.Status)
	assert.Equal(t, core.DisplayStatusPending, view.Status)
	assert.Equal(t, core.WorkerSet{"u1", "u2"}, view.Assignment.UserIDs)
	assert.Nil(t, view.Assignment.EndTime)

	_, err := f.assignments.Create(ctx, worker, core.CreateAssignmentRequest{TaskID: "task-day", UserIDs: []string{"u1"}, Date: "2026-03-02"})
	assert.ErrorIs(t, err, core.ErrAuthorization)

	_, err = f.assignments.Create(ctx, supervisor, core.CreateAssignmentRequest{TaskID: "nope", UserIDs: []string{"u1"}, Date: "2026-03-02"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.assignments.Create(ctx, supervisor, core.CreateAssignmentRequest{TaskID: "task-day", UserIDs: []string{"ghost"}, Date: "2026-03-02"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.assignments.Create(ctx, supervisor, core.CreateAssignmentRequest{TaskID: "task-day", UserIDs: nil, Date: "2026-03-02"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.assignments.Create(ctx, supervisor, core.CreateAssignmentRequest{TaskID: "task-day", UserIDs: []string{"u1"}, Date: "03/02/2026"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestStartRespectsWorkHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.create(t, "task-day", "u1")
	id := view.Assignment.ID

	f.now = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	got, err := f.assignments.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.DisplayStatusInactive, got.Status)

	_, err = f.assignments.Start(ctx, id, worker)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = f.assignments.Start(ctx, id, outsider)
	assert.ErrorIs(t, err, core.ErrAuthorization)

	started, err := f.assignments.Start(ctx, id, supervisor)
	require.NoError(t, err)
	assert.Equal(t, core.AssignmentStatusInProgress, started.Assignment.Status)
	assert.Equal(t, core.DisplayStatusInProgress, started.Status)
	require.NotNil(t, started.Assignment.StartTime)

	_, err = f.assignments.Start(ctx, id, supervisor)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.create(t, "task-day", "u1", "u2")
	id := view.Assignment.ID

	_, err := f.assignments.Complete(ctx, id, worker)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = f.assignments.Start(ctx, id, coworker)
	require.NoError(t, err)

	_, err = f.assignments.Complete(ctx, id, outsider)
	assert.ErrorIs(t, err, core.ErrAuthorization)

	done, err := f.assignments.CompleteFromReport(ctx, id, worker)
	require.NoError(t, err)
	assert.Equal(t, core.AssignmentStatusCompleted, done.Assignment.Status)
	require.NotNil(t, done.Assignment.EndTime)
	assert.True(t, done.Assignment.EndTime.After(*done.Assignment.StartTime))

	stored, err := f.assignments.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.DisplayStatusCompleted, stored.Status)
	assert.True(t, stored.Assignment.EndTime.After(*stored.Assignment.StartTime))

	_, err = f.assignments.Start(ctx, id, supervisor)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	_, err = f.assignments.ResetToPending(ctx, id, supervisor)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	assert.ErrorIs(t, f.assignments.Delete(ctx, id, supervisor), core.ErrInvalidTransition)
}

func TestResetAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.started(t, "u1")
	id := view.Assignment.ID

	reset, err := f.assignments.ResetToPending(ctx, id, worker)
	require.NoError(t, err)
	assert.Equal(t, core.AssignmentStatusPending, reset.Assignment.Status)
	assert.Nil(t, reset.Assignment.StartTime)

	assert.ErrorIs(t, f.assignments.Delete(ctx, id, worker), core.ErrAuthorization)
	require.NoError(t, f.assignments.Delete(ctx, id, supervisor))
	_, err = f.assignments.Get(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConcurrentStartHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	view := f.create(t, "task-open", "u1", "u2")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []core.Actor{worker, coworker} {
		wg.Add(1)
		go func(i int, actor core.Actor) {
			defer wg.Done()
			_, errs[i] = f.assignments.Start(context.Background(), view.Assignment.ID, actor)
		}(i, actor)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, core.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)
}

func TestListFiltersBeforePaginating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.create(t, "task-day", "u1")
	}
	f.started(t, "u1")
	f.create(t, "task-open", "u2")

	f.now = time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	inactive := core.DisplayStatusInactive
	views, info, err := f.assignments.List(ctx, core.AssignmentFilter{Status: &inactive}, core.Page{Number: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, views, 2)
	assert.Equal(t, 3, info.Total)
	assert.Equal(t, 2, info.LastPage)
	for _, v := range views {
		assert.Equal(t, core.DisplayStatusInactive, v.Status)
	}

	mine, info, err := f.assignments.ListForUser(ctx, coworker, core.AssignmentFilter{}, core.Page{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	assert.Equal(t, core.DefaultAssignmentPageSize, info.PerPage)

	byStatus, _, err := f.assignments.List(ctx, core.AssignmentFilter{Sort: "status"}, core.Page{})
	require.NoError(t, err)
	require.Len(t, byStatus, 5)
	assert.Equal(t, core.DisplayStatusInProgress, byStatus[0].Status)

	_, _, err = f.assignments.List(ctx, core.AssignmentFilter{Sort: "title"}, core.Page{})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRecordLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.create(t, "task-open", "u1")
	_, err := f.ingestor.Record(ctx, worker, core.RecordRequest{AssignmentID: pending.Assignment.ID, Latitude: 1, Longitude: 1})
	assert.ErrorIs(t, err, core.ErrNotTrackable)

	active := f.started(t, "u1")
	id := active.Assignment.ID
	sample, err := f.ingestor.Record(ctx, worker, core.RecordRequest{AssignmentID: id, Latitude: 40.7128, Longitude: -74.006})
	require.NoError(t, err)
	assert.Equal(t, "u1", sample.UserID)
	assert.Equal(t, core.TrackingAuto, sample.TrackingStatus)
	assert.True(t, sample.RecordedAt.Equal(f.now))

	_, err = f.ingestor.Record(ctx, outsider, core.RecordRequest{AssignmentID: id, Latitude: 1, Longitude: 1})
	assert.ErrorIs(t, err, core.ErrAuthorization)

	_, err = f.ingestor.Record(ctx, worker, core.RecordRequest{AssignmentID: id, Latitude: 91, Longitude: 1})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.ingestor.Record(ctx, worker, core.RecordRequest{AssignmentID: "missing", Latitude: 1, Longitude: 1})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.assignments.Complete(ctx, id, worker)
	require.NoError(t, err)
	_, err = f.ingestor.Record(ctx, worker, core.RecordRequest{AssignmentID: id, Latitude: 1, Longitude: 1})
	assert.ErrorIs(t, err, core.ErrNotTrackable)
}

func TestRecordBatchPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.started(t, "u1").Assignment.ID

	items := []core.RecordRequest{
		{AssignmentID: id, Latitude: 10, Longitude: 10},
		{AssignmentID: id, Latitude: 100, Longitude: 10},
		{AssignmentID: id, Latitude: 10.001, Longitude: 10, TrackingStatus: core.TrackingManual},
		{AssignmentID: "missing", Latitude: 10, Longitude: 10},
	}
	res, err := f.ingestor.RecordBatch(ctx, worker, items)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CreatedCount)
	assert.Equal(t, 2, res.ErrorCount)
	assert.Equal(t, core.BatchPartialSuccess, res.Outcome())
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, "validation_error", res.Errors[0].Code)
	assert.Equal(t, 3, res.Errors[1].Index)
	assert.Equal(t, "not_found", res.Errors[1].Code)

	failed, err := f.ingestor.RecordBatch(ctx, worker, items[1:2])
	require.NoError(t, err)
	assert.Equal(t, core.BatchFailure, failed.Outcome())
	assert.False(t, failed.Succeeded())

	_, err = f.ingestor.RecordBatch(ctx, worker, nil)
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = f.ingestor.RecordBatch(ctx, worker, make([]core.RecordRequest, core.MaxBatchSize+1))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRouteAndCurrentLocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.started(t, "u1", "u2").Assignment.ID

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i, lat := range []float64{0, 1, 2} {
		recordedAt := base.Add(time.Duration(i) * time.Minute)
		_, err := f.ingestor.Record(ctx, worker, core.RecordRequest{AssignmentID: id, Latitude: lat, Longitude: 0, RecordedAt: &recordedAt})
		require.NoError(t, err)
	}

	route, err := f.analytics.Route(ctx, id, "u1", core.TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, 3, route.TotalPoints)
	assert.InDelta(t, 222.38, route.TotalDistanceKm, 0.001)
	assert.True(t, route.StartTime.Equal(base))
	assert.True(t, route.EndTime.Equal(base.Add(2*time.Minute)))

	empty, err := f.analytics.Route(ctx, id, "u2", core.TimeRange{})
	require.NoError(t, err)
	assert.Zero(t, empty.TotalDistanceKm)
	assert.Nil(t, empty.StartTime)

	_, err = f.analytics.Route(ctx, id, "u3", core.TimeRange{})
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = f.analytics.Route(ctx, id, "", core.TimeRange{})
	assert.ErrorIs(t, err, core.ErrValidation)

	current, err := f.analytics.CurrentLocations(ctx, id)
	require.NoError(t, err)
	require.Len(t, current, 2)
	assert.Equal(t, "u1", current[0].UserID)
	require.NotNil(t, current[0].Sample)
	assert.Equal(t, 2.0, current[0].Sample.Latitude)
	assert.Nil(t, current[1].Sample)

	samples, info, err := f.analytics.Locations(ctx, id, "", core.TimeRange{}, core.Page{PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, samples, 2)
	assert.Equal(t, 3, info.Total)
	assert.Equal(t, 2.0, samples[0].Latitude)

	stats, err := f.analytics.Statistics(ctx, core.StatsScope{AssignmentID: id})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.ByUser["u1"])
	assert.Nil(t, stats.ByAssignment)
}

func TestFindNearby(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.started(t, "u1").Assignment.ID

	for _, p := range []core.Point{{Lat: 48.8566, Lon: 2.3522}, {Lat: 48.8606, Lon: 2.3376}, {Lat: 48.9566, Lon: 2.3522}} {
		_, err := f.ingestor.Record(ctx, worker, core.RecordRequest{AssignmentID: id, Latitude: p.Lat, Longitude: p.Lon})
		require.NoError(t, err)
	}

	results, info, err := f.analytics.FindNearby(ctx, core.NearbyRequest{Latitude: 48.8566, Longitude: 2.3522, RadiusKm: 2}, core.Page{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, info.Total)
	assert.Zero(t, results[0].DistanceKm)
	assert.InDelta(t, 1.15, results[1].DistanceKm, 0.05)

	_, _, err = f.analytics.FindNearby(ctx, core.NearbyRequest{Latitude: 0, Longitude: 0, RadiusKm: 0.1}, core.Page{})
	assert.ErrorIs(t, err, core.ErrValidation)
	_, _, err = f.analytics.FindNearby(ctx, core.NearbyRequest{Latitude: 0, Longitude: 0, RadiusKm: 50.5}, core.Page{})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRecordedSampleRoundTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.started(t, "u1").Assignment.ID

	accuracy := func(v float64) *float64 { return &v }
	address := func(v string) *string { return &v }
	paris := time.FixedZone("CET", 3600)

	cases := []struct {
		name string
		req  core.RecordRequest
	}{
		{"all fields", core.RecordRequest{
			Latitude: 48.856613, Longitude: 2.352222, Accuracy: accuracy(4.25),
			Address: address("  12 Rue de Rivoli, Paris "), TrackingStatus: core.TrackingManual,
		}},
		{"bounds", core.RecordRequest{Latitude: -90, Longitude: 180, Accuracy: accuracy(0)}},
		{"other bounds", core.RecordRequest{Latitude: 90, Longitude: -180}},
		{"tiny fractions", core.RecordRequest{Latitude: 1e-9, Longitude: -0.123456789012, Accuracy: accuracy(1234.5678)}},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recordedAt := time.Date(2026, 3, 2, 10, i, 7, 123456789, paris)
			req := tc.req
			req.AssignmentID = id
			req.RecordedAt = &recordedAt

			written, err := f.ingestor.Record(ctx, worker, req)
			require.NoError(t, err)

			stored, err := f.store.ListLocations(ctx, core.LocationQuery{AssignmentID: id})
			require.NoError(t, err)
			var got *core.LocationSample
			for _, s := range stored {
				if s.ID == written.ID {
					got = s
				}
			}
			require.NotNil(t, got)

			assert.Equal(t, req.Latitude, got.Latitude)
			assert.Equal(t, req.Longitude, got.Longitude)
			assert.Equal(t, req.Accuracy, got.Accuracy)
			assert.Equal(t, req.Address, got.Address)
			assert.True(t, got.RecordedAt.Equal(recordedAt), "recorded_at %s != %s", got.RecordedAt, recordedAt)
			wantTracking := req.TrackingStatus
			if wantTracking == "" {
				wantTracking = core.TrackingAuto
			}
			assert.Equal(t, wantTracking, got.TrackingStatus)
			assert.Equal(t, "u1", got.UserID)
		})
	}
}

func TestStatisticsScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shared := f.started(t, "u1", "u2").Assignment.ID
	solo := f.started(t, "u1").Assignment.ID

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	samples := []struct {
		actor        core.Actor
		assignmentID string
		tracking     core.TrackingStatus
	}{
		{worker, shared, core.TrackingAuto},
		{worker, shared, core.TrackingAuto},
		{worker, shared, core.TrackingManual},
		{coworker, shared, core.TrackingManual},
		{worker, solo, core.TrackingAuto},
	}
	for i, s := range samples {
		recordedAt := base.Add(time.Duration(i) * time.Minute)
		_, err := f.ingestor.Record(ctx, s.actor, core.RecordRequest{
			AssignmentID: s.assignmentID, Latitude: 1, Longitude: 1,
			TrackingStatus: s.tracking, RecordedAt: &recordedAt,
		})
		require.NoError(t, err)
	}

	cases := []struct {
		name         string
		scope        core.StatsScope
		total        int
		auto, manual int
		byUser       map[string]int
		byAssignment map[string]int
		first, last  time.Time
	}{
		{
			name: "assignment", scope: core.StatsScope{AssignmentID: shared},
			total: 4, auto: 2, manual: 2,
			byUser: map[string]int{"u1": 3, "u2": 1},
			first:  base, last: base.Add(3 * time.Minute),
		},
		{
			name: "user", scope: core.StatsScope{UserID: "u1"},
			total: 4, auto: 3, manual: 1,
			byAssignment: map[string]int{shared: 3, solo: 1},
			first:        base, last: base.Add(4 * time.Minute),
		},
		{
			name: "assignment and user", scope: core.StatsScope{AssignmentID: shared, UserID: "u1"},
			total: 3, auto: 2, manual: 1,
			byUser:       map[string]int{"u1": 3},
			byAssignment: map[string]int{shared: 3},
			first:        base, last: base.Add(2 * time.Minute),
		},
		{
			name: "global", scope: core.StatsScope{},
			total: 5, auto: 3, manual: 2,
			byUser:       map[string]int{"u1": 4, "u2": 1},
			byAssignment: map[string]int{shared: 4, solo: 1},
			first:        base, last: base.Add(4 * time.Minute),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stats, err := f.analytics.Statistics(ctx, tc.scope)
			require.NoError(t, err)
			assert.Equal(t, tc.total, stats.Total)
			assert.Equal(t, tc.auto, stats.Auto)
			assert.Equal(t, tc.manual, stats.Manual)
			assert.Equal(t, tc.byUser, stats.ByUser)
			assert.Equal(t, tc.byAssignment, stats.ByAssignment)
			require.NotNil(t, stats.FirstRecordedAt)
			require.NotNil(t, stats.LastRecordedAt)
			assert.True(t, stats.FirstRecordedAt.Equal(tc.first))
			assert.True(t, stats.LastRecordedAt.Equal(tc.last))
		})
	}

	_, err := f.analytics.Statistics(ctx, core.StatsScope{AssignmentID: "missing"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}
