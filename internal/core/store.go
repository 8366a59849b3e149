package core

import (
	"context"
	"time"
)

// AssignmentQuery holds the persisted-field filters of an assignment listing.
// The computed status filter is applied by the service, never by the store.
type AssignmentQuery struct {
	UserID   string
	TaskID   string
	Date     *Date
	DateFrom *Date
	DateTo   *Date
}

// LocationQuery selects samples of one assignment.
type LocationQuery struct {
	AssignmentID string
	UserID       string
	Range        TimeRange
	Ascending    bool
	Limit        int
	Offset       int
}

// BoxQuery selects samples inside a bounding box for proximity search.
type BoxQuery struct {
	Box          BoundingBox
	AssignmentID string
	Range        TimeRange
}

// StatsScope restricts statistics to an assignment, a user, both, or nothing.
type StatsScope struct {
	AssignmentID string
	UserID       string
}

// LocationStats aggregates samples within a scope.
type LocationStats struct {
	Total           int
	Auto            int
	Manual          int
	ByUser          map[string]int
	ByAssignment    map[string]int
	FirstRecordedAt *time.Time
	LastRecordedAt  *time.Time
}

// Store abstracts the persistence layer used by the lifecycle, ingestion and analytics services.
type Store interface {
	// Collaborator read models
	GetTask(ctx context.Context, id string) (*Task, error)
	GetUser(ctx context.Context, id string) (*User, error)
	UnknownUsers(ctx context.Context, ids []string) ([]string, error)

	// Assignment operations
	InsertAssignment(ctx context.Context, a *Assignment) error
	GetAssignment(ctx context.Context, id string) (*Assignment, error)
	ListAssignments(ctx context.Context, q AssignmentQuery) ([]*Assignment, error)
	MarkAssignmentStarted(ctx context.Context, id string, startedAt time.Time) (bool, error)
	MarkAssignmentCompleted(ctx context.Context, id string, endedAt time.Time) (bool, error)
	ResetAssignment(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteAssignment(ctx context.Context, id string) (bool, error)

	// Location operations
	InsertLocation(ctx context.Context, sample *LocationSample) error
	ListLocations(ctx context.Context, q LocationQuery) ([]*LocationSample, error)
	CountLocations(ctx context.Context, q LocationQuery) (int, error)
	LatestLocations(ctx context.Context, assignmentID string) ([]*LocationSample, error)
	LocationsInBox(ctx context.Context, q BoxQuery) ([]*LocationSample, error)
	LocationStats(ctx context.Context, scope StatsScope) (*LocationStats, error)
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID   string
	Role Role
}
