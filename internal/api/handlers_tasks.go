package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fieldtrack/internal/core"
)

type createTaskRequest struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    *string `json:"description"`
	Location       *string `json:"location"`
	ScheduledStart *string `json:"scheduled_start"`
	ScheduledEnd   *string `json:"scheduled_end"`
	Status         string  `json:"status"`
}

type taskResponse struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    *string `json:"description,omitempty"`
	Location       *string `json:"location,omitempty"`
	ScheduledStart *string `json:"scheduled_start,omitempty"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type upsertUserRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type userResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !actorFromContext(r.Context()).Role.Elevated() {
		writeError(w, http.StatusForbidden, string(core.KindAuthorization), "only supervisors can register tasks")
		return
	}
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, s.logger, "create task", err)
		return
	}
	task, err := req.toTask()
	if err != nil {
		writeDomainError(w, s.logger, "create task", err)
		return
	}
	if _, err := s.store.GetTask(r.Context(), task.ID); err == nil {
		writeError(w, http.StatusConflict, "conflict", "task "+task.ID+" already exists")
		return
	}
	if err := s.store.InsertTask(r.Context(), task); err != nil {
		writeDomainError(w, s.logger, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeDomainError(w, s.logger, "load task", err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	if !actorFromContext(r.Context()).Role.Elevated() {
		writeError(w, http.StatusForbidden, string(core.KindAuthorization), "only supervisors can register users")
		return
	}
	var req upsertUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, s.logger, "register user", err)
		return
	}
	user := &core.User{
		ID:   strings.TrimSpace(chi.URLParam(r, "userID")),
		Name: strings.TrimSpace(req.Name),
		Role: core.Role(strings.TrimSpace(req.Role)),
	}
	if user.Role == "" {
		user.Role = core.RoleWorker
	}
	switch user.Role {
	case core.RoleWorker, core.RoleSupervisor, core.RoleAdmin:
	default:
		writeError(w, http.StatusBadRequest, string(core.KindValidation), "role must be worker, supervisor or admin")
		return
	}
	if user.ID == "" || user.Name == "" {
		writeError(w, http.StatusBadRequest, string(core.KindValidation), "user id and name are required")
		return
	}
	if err := s.store.UpsertUser(r.Context(), user); err != nil {
		writeDomainError(w, s.logger, "register user", err)
		return
	}
	stored, err := s.store.GetUser(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, s.logger, "register user", err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		ID:        stored.ID,
		Name:      stored.Name,
		Role:      string(stored.Role),
		CreatedAt: formatTime(stored.CreatedAt),
	})
}

func (req createTaskRequest) toTask() (*core.Task, error) {
	task := &core.Task{
		ID:          strings.TrimSpace(req.ID),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Location:    req.Location,
		Status:      core.TaskStatus(strings.TrimSpace(req.Status)),
	}
	if task.ID == "" {
		task.ID = core.NewID()
	}
	if task.Title == "" {
		return nil, core.Validationf("title is required")
	}
	switch task.Status {
	case "", core.TaskStatusPending, core.TaskStatusActive, core.TaskStatusCompleted, core.TaskStatusCancelled:
	default:
		return nil, core.Validationf("status must be pending, active, completed or cancelled")
	}
	var err error
	if task.ScheduledStart, err = parseOptionalTimeOfDay(req.ScheduledStart, "scheduled_start"); err != nil {
		return nil, err
	}
	if task.ScheduledEnd, err = parseOptionalTimeOfDay(req.ScheduledEnd, "scheduled_end"); err != nil {
		return nil, err
	}
	if (task.ScheduledStart == nil) != (task.ScheduledEnd == nil) {
		return nil, core.Validationf("scheduled_start and scheduled_end must be set together")
	}
	return task, nil
}

func parseOptionalTimeOfDay(value *string, field string) (*core.TimeOfDay, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	tod, err := core.ParseTimeOfDay(*value)
	if err != nil {
		return nil, core.Validationf("%s must be HH:MM or HH:MM:SS", field)
	}
	return &tod, nil
}

func taskToResponse(task *core.Task) taskResponse {
	return taskResponse{
		ID:             task.ID,
		Title:          task.Title,
		Description:    task.Description,
		Location:       task.Location,
		ScheduledStart: formatTimeOfDay(task.ScheduledStart),
		ScheduledEnd:   formatTimeOfDay(task.ScheduledEnd),
		Status:         string(task.Status),
		CreatedAt:      formatTime(task.CreatedAt),
		UpdatedAt:      formatTime(task.UpdatedAt),
	}
}
