package core

import (
	"time"
)

// TaskStatus describes the lifecycle state of a task as owned by the task collaborator.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// AssignmentStatus is the persisted lifecycle state of an assignment.
type AssignmentStatus string

const (
	AssignmentStatusPending    AssignmentStatus = "pending"
	AssignmentStatusInProgress AssignmentStatus = "in_progress"
	AssignmentStatusCompleted  AssignmentStatus = "completed"
)

// DisplayStatus is derived at read time and never stored.
type DisplayStatus string

const (
	DisplayStatusPending    DisplayStatus = "pending"
	DisplayStatusInactive   DisplayStatus = "inactive"
	DisplayStatusInProgress DisplayStatus = "in progress"
	DisplayStatusCompleted  DisplayStatus = "completed"
)

// TrackingStatus tells whether a sample came from the periodic sampler or a user action.
type TrackingStatus string

const (
	TrackingAuto   TrackingStatus = "auto"
	TrackingManual TrackingStatus = "manual"
)

// Role is the acting user's role as reported by the auth collaborator.
type Role string

const (
	RoleWorker     Role = "worker"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Elevated reports whether the role may act on assignments it is not a member of.
func (r Role) Elevated() bool {
	return r == RoleSupervisor || r == RoleAdmin
}

// User is the read model of an identity known to the system.
type User struct {
	ID        string
	Name      string
	Role      Role
	CreatedAt time.Time
}

// Task is the read-only task metadata consumed by the status computer.
type Task struct {
	ID             string
	Title          string
	Description    *string
	Location       *string
	ScheduledStart *TimeOfDay
	ScheduledEnd   *TimeOfDay
	Status         TaskStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Assignment binds one task to a set of workers for a given date.
type Assignment struct {
	ID        string
	TaskID    string
	UserIDs   WorkerSet
	Date      Date
	StartTime *time.Time
	EndTime   *time.Time
	Status    AssignmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasMember reports whether userID is one of the assigned workers.
func (a *Assignment) HasMember(userID string) bool {
	return a.UserIDs.Contains(userID)
}

// LocationSample is a single recorded position of a worker during an assignment.
type LocationSample struct {
	ID             string
	AssignmentID   string
	UserID         string
	Latitude       float64
	Longitude      float64
	Accuracy       *float64
	Address        *string
	TrackingStatus TrackingStatus
	RecordedAt     time.Time
	CreatedAt      time.Time
}

// Point returns the sample's coordinates.
func (l *LocationSample) Point() Point {
	return Point{Lat: l.Latitude, Lon: l.Longitude}
}

// TimeRange bounds a query on recorded_at. Nil ends are open.
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

// Page describes 1-based pagination.
type Page struct {
	Number  int
	PerPage int
}

// Normalize fills defaults and clamps the page size to maxPerPage.
func (p Page) Normalize(defaultPerPage, maxPerPage int) Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = defaultPerPage
	}
	if maxPerPage > 0 && p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	return p
}

// Offset returns the number of items to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.PerPage
}

// PageInfo is returned with every paginated listing.
type PageInfo struct {
	Page     int
	PerPage  int
	Total    int
	LastPage int
}

func newPageInfo(p Page, total int) PageInfo {
	last := 1
	if total > 0 {
		last = (total + p.PerPage - 1) / p.PerPage
	}
	return PageInfo{Page: p.Number, PerPage: p.PerPage, Total: total, LastPage: last}
}

// paginate returns the slice window described by p.
func paginate[T any](items []T, p Page) []T {
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.PerPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
