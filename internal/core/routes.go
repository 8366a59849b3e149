package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultLocationPageSize is the page size of sample listings and proximity search.
const DefaultLocationPageSize = 50

const maxLocationPageSize = 500

// Route is the ordered track of one worker on one assignment.
type Route struct {
	AssignmentID    string
	UserID          string
	Points          []*LocationSample
	TotalPoints     int
	TotalDistanceKm float64
	StartTime       *time.Time
	EndTime         *time.Time
}

// CurrentLocation is the latest known sample of a member, if any.
type CurrentLocation struct {
	UserID string
	Sample *LocationSample
}

// Analytics reads accumulated samples for routes, live positions and statistics.
type Analytics struct {
	store Store
	opts  options
}

// NewAnalytics constructs the read-side analytics service.
func NewAnalytics(store Store, opts ...Option) *Analytics {
	return &Analytics{store: store, opts: applyOptions(opts)}
}

// Route returns a member's samples in ascending recorded_at order with its distance summary.
func (a *Analytics) Route(ctx context.Context, assignmentID, userID string, r TimeRange) (*Route, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, Validationf("user_id is required")
	}
	if err := validateRange(r); err != nil {
		return nil, err
	}
	assignment, err := a.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !assignment.HasMember(userID) {
		return nil, Validationf("user %s is not assigned to %s", userID, assignmentID)
	}
	points, err := a.store.ListLocations(ctx, LocationQuery{
		AssignmentID: assignmentID,
		UserID:       userID,
		Range:        r,
		Ascending:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("list route points: %w", err)
	}
	route := &Route{
		AssignmentID:    assignmentID,
		UserID:          userID,
		Points:          points,
		TotalPoints:     len(points),
		TotalDistanceKm: TotalDistance(points),
	}
	if len(points) > 0 {
		first := points[0].RecordedAt
		last := points[len(points)-1].RecordedAt
		route.StartTime = &first
		route.EndTime = &last
	}
	return route, nil
}

// TotalDistance is the rounded route length of samples already ordered by time.
func TotalDistance(samples []*LocationSample) float64 {
	points := make([]Point, len(samples))
	for i, s := range samples {
		points[i] = s.Point()
	}
	return TotalDistanceKm(points)
}

// CurrentLocations returns the latest sample of every member, in member order.
// Members without samples are included with a nil Sample.
func (a *Analytics) CurrentLocations(ctx context.Context, assignmentID string) ([]CurrentLocation, error) {
	assignment, err := a.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	latest, err := a.store.LatestLocations(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("latest locations: %w", err)
	}
	byUser := make(map[string]*LocationSample, len(latest))
	for _, s := range latest {
		byUser[s.UserID] = s
	}
	out := make([]CurrentLocation, 0, len(assignment.UserIDs))
	for _, userID := range assignment.UserIDs {
		out = append(out, CurrentLocation{UserID: userID, Sample: byUser[userID]})
	}
	return out, nil
}

// Locations lists an assignment's samples newest first.
func (a *Analytics) Locations(ctx context.Context, assignmentID, userID string, r TimeRange, page Page) ([]*LocationSample, PageInfo, error) {
	page = page.Normalize(DefaultLocationPageSize, maxLocationPageSize)
	if err := validateRange(r); err != nil {
		return nil, PageInfo{}, err
	}
	if _, err := a.store.GetAssignment(ctx, assignmentID); err != nil {
		return nil, PageInfo{}, err
	}
	q := LocationQuery{AssignmentID: assignmentID, UserID: strings.TrimSpace(userID), Range: r}
	total, err := a.store.CountLocations(ctx, q)
	if err != nil {
		return nil, PageInfo{}, fmt.Errorf("count locations: %w", err)
	}
	q.Limit = page.PerPage
	q.Offset = page.Offset()
	samples, err := a.store.ListLocations(ctx, q)
	if err != nil {
		return nil, PageInfo{}, fmt.Errorf("list locations: %w", err)
	}
	return samples, newPageInfo(page, total), nil
}

// Statistics aggregates samples for an assignment, a user, or everything.
func (a *Analytics) Statistics(ctx context.Context, scope StatsScope) (*LocationStats, error) {
	scope.AssignmentID = strings.TrimSpace(scope.AssignmentID)
	scope.UserID = strings.TrimSpace(scope.UserID)
	if scope.AssignmentID != "" {
		if _, err := a.store.GetAssignment(ctx, scope.AssignmentID); err != nil {
			return nil, err
		}
	}
	stats, err := a.store.LocationStats(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("location stats: %w", err)
	}
	// Only the dimension complementary to the scope is reported.
	switch {
	case scope.AssignmentID != "" && scope.UserID == "":
		stats.ByAssignment = nil
	case scope.UserID != "" && scope.AssignmentID == "":
		stats.ByUser = nil
	}
	return stats, nil
}

func validateRange(r TimeRange) error {
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return Validationf("date range end must not be before its start")
	}
	return nil
}
