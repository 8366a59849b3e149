package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fieldtrack/internal/core"
)

type createAssignmentRequest struct {
	TaskID    string   `json:"task_id"`
	UserIDs   []string `json:"user_ids"`
	Date      string   `json:"date"`
	StartTime *string  `json:"start_time"`
}

type assignmentTask struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Location       *string `json:"location,omitempty"`
	ScheduledStart *string `json:"scheduled_start,omitempty"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty"`
}

type assignmentResponse struct {
	ID             string          `json:"id"`
	TaskID         string          `json:"task_id"`
	Task           *assignmentTask `json:"task,omitempty"`
	UserIDs        []string        `json:"user_ids"`
	Date           string          `json:"date"`
	StartTime      *string         `json:"start_time"`
	EndTime        *string         `json:"end_time"`
	Status         string          `json:"status"`
	ComputedStatus string          `json:"computed_status"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req createAssignmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, s.logger, "create assignment", err)
		return
	}
	start, err := parseOptionalTime(derefString(req.StartTime), "start_time")
	if err != nil {
		writeDomainError(w, s.logger, "create assignment", err)
		return
	}

	view, err := s.assignments.Create(r.Context(), actorFromContext(r.Context()), core.CreateAssignmentRequest{
		TaskID:    req.TaskID,
		UserIDs:   req.UserIDs,
		Date:      req.Date,
		StartTime: start,
	})
	if err != nil {
		writeDomainError(w, s.logger, "create assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, assignmentToResponse(view))
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	filter, err := assignmentFilterFromQuery(r)
	if err != nil {
		writeDomainError(w, s.logger, "list assignments", err)
		return
	}
	views, info, err := s.assignments.List(r.Context(), filter, pageFromQuery(r))
	if err != nil {
		writeDomainError(w, s.logger, "list assignments", err)
		return
	}
	writeJSON(w, http.StatusOK, paged(assignmentsToResponse(views), info))
}

func (s *Server) handleListMyAssignments(w http.ResponseWriter, r *http.Request) {
	filter, err := assignmentFilterFromQuery(r)
	if err != nil {
		writeDomainError(w, s.logger, "list assignments", err)
		return
	}
	views, info, err := s.assignments.ListForUser(r.Context(), actorFromContext(r.Context()), filter, pageFromQuery(r))
	if err != nil {
		writeDomainError(w, s.logger, "list assignments", err)
		return
	}
	writeJSON(w, http.StatusOK, paged(assignmentsToResponse(views), info))
}

func (s *Server) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	view, err := s.assignments.Get(r.Context(), chi.URLParam(r, "assignmentID"))
	if err != nil {
		writeDomainError(w, s.logger, "load assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentToResponse(view))
}

type transitionFunc func(s *Server, r *http.Request, id string, actor core.Actor) (*core.AssignmentView, error)

// handleTransition serves the lifecycle endpoints, which differ only in the service call.
func (s *Server) handleTransition(op string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "assignmentID")
		view, err := fn(s, r, id, actorFromContext(r.Context()))
		if err != nil {
			writeDomainError(w, s.logger, op+" assignment", err)
			return
		}
		writeJSON(w, http.StatusOK, assignmentToResponse(view))
	}
}

func startAssignment(s *Server, r *http.Request, id string, actor core.Actor) (*core.AssignmentView, error) {
	return s.assignments.Start(r.Context(), id, actor)
}

func completeAssignment(s *Server, r *http.Request, id string, actor core.Actor) (*core.AssignmentView, error) {
	return s.assignments.Complete(r.Context(), id, actor)
}

func completeFromReport(s *Server, r *http.Request, id string, actor core.Actor) (*core.AssignmentView, error) {
	return s.assignments.CompleteFromReport(r.Context(), id, actor)
}

func resetAssignment(s *Server, r *http.Request, id string, actor core.Actor) (*core.AssignmentView, error) {
	return s.assignments.ResetToPending(r.Context(), id, actor)
}

func (s *Server) handleDeleteAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assignmentID")
	if err := s.assignments.Delete(r.Context(), id, actorFromContext(r.Context())); err != nil {
		writeDomainError(w, s.logger, "delete assignment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func assignmentFilterFromQuery(r *http.Request) (core.AssignmentFilter, error) {
	q := r.URL.Query()
	filter := core.AssignmentFilter{
		AssignmentQuery: core.AssignmentQuery{
			UserID: strings.TrimSpace(q.Get("user_id")),
			TaskID: strings.TrimSpace(q.Get("task_id")),
		},
		Sort: q.Get("sort"),
	}
	var err error
	if filter.Date, err = parseOptionalDate(q.Get("date"), "date"); err != nil {
		return filter, err
	}
	if filter.DateFrom, err = parseOptionalDate(q.Get("date_from"), "date_from"); err != nil {
		return filter, err
	}
	if filter.DateTo, err = parseOptionalDate(q.Get("date_to"), "date_to"); err != nil {
		return filter, err
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Before(*filter.DateFrom) {
		return filter, core.Validationf("date_to must not be before date_from")
	}
	if status := strings.TrimSpace(q.Get("status")); status != "" {
		parsed, err := core.ParseDisplayStatus(status)
		if err != nil {
			return filter, err
		}
		filter.Status = &parsed
	}
	return filter, nil
}

func assignmentToResponse(view *core.AssignmentView) assignmentResponse {
	a := view.Assignment
	resp := assignmentResponse{
		ID:             a.ID,
		TaskID:         a.TaskID,
		UserIDs:        append([]string{}, a.UserIDs...),
		Date:           a.Date.String(),
		StartTime:      formatOptionalTime(a.StartTime),
		EndTime:        formatOptionalTime(a.EndTime),
		Status:         string(a.Status),
		ComputedStatus: string(view.Status),
		CreatedAt:      formatTime(a.CreatedAt),
		UpdatedAt:      formatTime(a.UpdatedAt),
	}
	if t := view.Task; t != nil {
		resp.Task = &assignmentTask{
			ID:             t.ID,
			Title:          t.Title,
			Location:       t.Location,
			ScheduledStart: formatTimeOfDay(t.ScheduledStart),
			ScheduledEnd:   formatTimeOfDay(t.ScheduledEnd),
		}
	}
	return resp
}

func assignmentsToResponse(views []*core.AssignmentView) []assignmentResponse {
	out := make([]assignmentResponse, 0, len(views))
	for _, v := range views {
		out = append(out, assignmentToResponse(v))
	}
	return out
}

func formatTimeOfDay(t *core.TimeOfDay) *string {
	if t == nil {
		return nil
	}
	formatted := t.String()
	return &formatted
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
