package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultAssignmentPageSize is the page size of assignment listings.
const DefaultAssignmentPageSize = 15

const maxAssignmentPageSize = 100

// CreateAssignmentRequest carries the fields a supervisor provides.
type CreateAssignmentRequest struct {
	TaskID    string
	UserIDs   []string
	Date      string
	StartTime *time.Time
}

// AssignmentView is an assignment together with its task and computed status.
type AssignmentView struct {
	Assignment *Assignment
	Task       *Task
	Status     DisplayStatus
}

// AssignmentFilter is a listing request. Status filters on the computed status.
type AssignmentFilter struct {
	AssignmentQuery
	Status *DisplayStatus
	Sort   string
}

// AssignmentService owns the assignment lifecycle.
type AssignmentService struct {
	store Store
	opts  options
}

// NewAssignmentService constructs the lifecycle service.
func NewAssignmentService(store Store, opts ...Option) *AssignmentService {
	return &AssignmentService{store: store, opts: applyOptions(opts)}
}

// Create registers a pending assignment.
func (s *AssignmentService) Create(ctx context.Context, actor Actor, req CreateAssignmentRequest) (*AssignmentView, error) {
	req.TaskID = strings.TrimSpace(req.TaskID)
	if req.TaskID == "" {
		return nil, Validationf("task_id is required")
	}
	workers, err := NewWorkerSet(req.UserIDs)
	if err != nil {
		return nil, err
	}
	date, err := ParseDate(req.Date)
	if err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load task: %w", err)
	}
	unknown, err := s.store.UnknownUsers(ctx, workers)
	if err != nil {
		return nil, fmt.Errorf("check users: %w", err)
	}
	guard := CanCreateAssignment(CreateAssignmentContext{
		ActorRole:    actor.Role,
		TaskID:       req.TaskID,
		TaskExists:   task != nil,
		UnknownUsers: unknown,
	})
	if err := guard.Error(); err != nil {
		return nil, err
	}

	a := &Assignment{
		ID:      NewID(),
		TaskID:  task.ID,
		UserIDs: workers,
		Date:    date,
		Status:  AssignmentStatusPending,
	}
	if req.StartTime != nil {
		start := req.StartTime.UTC()
		a.StartTime = &start
	}
	if err := s.store.InsertAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	s.opts.logger.Info("assignment created", "assignment_id", a.ID, "task_id", a.TaskID, "workers", len(a.UserIDs))
	return s.view(a, task), nil
}

// Get returns an assignment with its computed status.
func (s *AssignmentService) Get(ctx context.Context, id string) (*AssignmentView, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	task, err := s.loadTask(ctx, a.TaskID)
	if err != nil {
		return nil, err
	}
	return s.view(a, task), nil
}

// Start moves a pending assignment to in_progress and stamps start_time.
func (s *AssignmentService) Start(ctx context.Context, id string, actor Actor) (*AssignmentView, error) {
	a, task, err := s.loadWithTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.opts.localNow()
	guard := CanStartAssignment(s.transitionContext(a, actor, IsWithinWorkHours(task, now)))
	if err := guard.Error(); err != nil {
		return nil, err
	}

	startedAt := now.UTC()
	ok, err := s.store.MarkAssignmentStarted(ctx, id, startedAt)
	if err != nil {
		return nil, fmt.Errorf("mark assignment started: %w", err)
	}
	if !ok {
		return nil, s.lostRace(ctx, id, "start")
	}
	a.Status = AssignmentStatusInProgress
	a.StartTime = &startedAt
	a.EndTime = nil

	s.opts.logger.Info("assignment started", "assignment_id", id, "actor", actor.ID)
	s.notify("Assignment started", fmt.Sprintf("%s started %s", actor.ID, taskTitle(task, a)))
	return s.view(a, task), nil
}

// Complete moves an in_progress assignment to completed and stamps end_time.
func (s *AssignmentService) Complete(ctx context.Context, id string, actor Actor) (*AssignmentView, error) {
	a, task, err := s.loadWithTask(ctx, id)
	if err != nil {
		return nil, err
	}
	guard := CanCompleteAssignment(s.transitionContext(a, actor, true))
	if err := guard.Error(); err != nil {
		return nil, err
	}

	endedAt := s.opts.now().UTC()
	if a.StartTime != nil && !endedAt.After(*a.StartTime) {
		// end_time must stay strictly after start_time even under clock skew.
		endedAt = a.StartTime.Add(time.Millisecond)
	}
	ok, err := s.store.MarkAssignmentCompleted(ctx, id, endedAt)
	if err != nil {
		return nil, fmt.Errorf("mark assignment completed: %w", err)
	}
	if !ok {
		return nil, s.lostRace(ctx, id, "complete")
	}
	a.Status = AssignmentStatusCompleted
	a.EndTime = &endedAt

	s.opts.logger.Info("assignment completed", "assignment_id", id, "actor", actor.ID)
	s.notify("Assignment completed", fmt.Sprintf("%s completed %s", actor.ID, taskTitle(task, a)))
	return s.view(a, task), nil
}

// CompleteFromReport is the completion signal sent after a report is filed.
func (s *AssignmentService) CompleteFromReport(ctx context.Context, id string, actor Actor) (*AssignmentView, error) {
	view, err := s.Complete(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	s.opts.logger.Debug("assignment completed by report", "assignment_id", id)
	return view, nil
}

// ResetToPending cancels progress on an assignment that has not completed.
func (s *AssignmentService) ResetToPending(ctx context.Context, id string, actor Actor) (*AssignmentView, error) {
	a, task, err := s.loadWithTask(ctx, id)
	if err != nil {
		return nil, err
	}
	guard := CanResetAssignment(s.transitionContext(a, actor, true))
	if err := guard.Error(); err != nil {
		return nil, err
	}
	ok, err := s.store.ResetAssignment(ctx, id, s.opts.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("reset assignment: %w", err)
	}
	if !ok {
		return nil, s.lostRace(ctx, id, "reset")
	}
	a.Status = AssignmentStatusPending
	a.StartTime = nil
	a.EndTime = nil
	s.opts.logger.Info("assignment reset", "assignment_id", id, "actor", actor.ID)
	return s.view(a, task), nil
}

// Delete removes an assignment that has not completed.
func (s *AssignmentService) Delete(ctx context.Context, id string, actor Actor) error {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	guard := CanDeleteAssignment(s.transitionContext(a, actor, true))
	if err := guard.Error(); err != nil {
		return err
	}
	ok, err := s.store.DeleteAssignment(ctx, id)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	if !ok {
		return s.lostRace(ctx, id, "delete")
	}
	s.opts.logger.Info("assignment deleted", "assignment_id", id, "actor", actor.ID)
	return nil
}

// List returns a page of assignments. The computed status is derived for the
// whole candidate set, then filtered and sorted, and only then paginated.
func (s *AssignmentService) List(ctx context.Context, filter AssignmentFilter, page Page) ([]*AssignmentView, PageInfo, error) {
	page = page.Normalize(DefaultAssignmentPageSize, maxAssignmentPageSize)
	less, err := assignmentOrder(filter.Sort)
	if err != nil {
		return nil, PageInfo{}, err
	}
	candidates, err := s.store.ListAssignments(ctx, filter.AssignmentQuery)
	if err != nil {
		return nil, PageInfo{}, fmt.Errorf("list assignments: %w", err)
	}

	now := s.opts.localNow()
	tasks := make(map[string]*Task)
	views := make([]*AssignmentView, 0, len(candidates))
	for _, a := range candidates {
		task, ok := tasks[a.TaskID]
		if !ok {
			task, err = s.loadTask(ctx, a.TaskID)
			if err != nil {
				return nil, PageInfo{}, err
			}
			tasks[a.TaskID] = task
		}
		view := &AssignmentView{Assignment: a, Task: task, Status: ComputedStatus(a, task, now)}
		if filter.Status != nil && view.Status != *filter.Status {
			continue
		}
		views = append(views, view)
	}
	sort.SliceStable(views, func(i, j int) bool { return less(views[i], views[j]) })
	return paginate(views, page), newPageInfo(page, len(views)), nil
}

// ListForUser lists the actor's own assignments.
func (s *AssignmentService) ListForUser(ctx context.Context, actor Actor, filter AssignmentFilter, page Page) ([]*AssignmentView, PageInfo, error) {
	if actor.ID == "" {
		return nil, PageInfo{}, Forbiddenf("an acting user is required")
	}
	filter.UserID = actor.ID
	return s.List(ctx, filter, page)
}

func (s *AssignmentService) view(a *Assignment, task *Task) *AssignmentView {
	return &AssignmentView{Assignment: a, Task: task, Status: ComputedStatus(a, task, s.opts.localNow())}
}

func (s *AssignmentService) transitionContext(a *Assignment, actor Actor, withinHours bool) TransitionContext {
	return TransitionContext{
		AssignmentID:    a.ID,
		Status:          a.Status,
		ActorID:         actor.ID,
		ActorRole:       actor.Role,
		IsMember:        a.HasMember(actor.ID),
		WithinWorkHours: withinHours,
	}
}

func (s *AssignmentService) loadWithTask(ctx context.Context, id string) (*Assignment, *Task, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	task, err := s.loadTask(ctx, a.TaskID)
	if err != nil {
		return nil, nil, err
	}
	return a, task, nil
}

// loadTask tolerates tasks removed by the task collaborator: an assignment
// without a task simply has no work-hour window.
func (s *AssignmentService) loadTask(ctx context.Context, id string) (*Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load task: %w", err)
	}
	return task, nil
}

// lostRace explains a conditional update that matched no row.
func (s *AssignmentService) lostRace(ctx context.Context, id, op string) error {
	current, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	return InvalidTransitionf("cannot %s assignment %s (current status: %s)", op, id, current.Status)
}

func (s *AssignmentService) notify(title, body string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.opts.notifier.Send(ctx, title, body); err != nil {
			s.opts.logger.Warn("send notification", "title", title, "err", err)
		}
	}()
}

func taskTitle(task *Task, a *Assignment) string {
	if task != nil && task.Title != "" {
		return fmt.Sprintf("%q (%s)", task.Title, a.Date)
	}
	return fmt.Sprintf("assignment %s", a.ID)
}

type assignmentLess func(a, b *AssignmentView) bool

// assignmentOrder parses a sort key; a leading "-" sorts descending.
func assignmentOrder(key string) (assignmentLess, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "-date"
	}
	desc := strings.HasPrefix(key, "-")
	field := strings.TrimPrefix(key, "-")

	var cmp func(a, b *AssignmentView) int
	switch field {
	case "date":
		cmp = func(a, b *AssignmentView) int {
			return strings.Compare(a.Assignment.Date.String(), b.Assignment.Date.String())
		}
	case "created_at":
		cmp = func(a, b *AssignmentView) int {
			return a.Assignment.CreatedAt.Compare(b.Assignment.CreatedAt)
		}
	case "status":
		cmp = func(a, b *AssignmentView) int {
			return displayRank(a.Status) - displayRank(b.Status)
		}
	default:
		return nil, Validationf("invalid sort key %q: use date, created_at or status", key)
	}
	return func(a, b *AssignmentView) bool {
		c := cmp(a, b)
		if desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		if !a.Assignment.CreatedAt.Equal(b.Assignment.CreatedAt) {
			return a.Assignment.CreatedAt.After(b.Assignment.CreatedAt)
		}
		return a.Assignment.ID < b.Assignment.ID
	}, nil
}
