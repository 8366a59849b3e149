package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldtrack/internal/core"
)

var ErrTaskNotFound = core.NotFoundf("task not found")

// InsertTask stores task metadata loaded from the task collaborator.
func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = core.TaskStatusPending
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, location, scheduled_start, scheduled_end, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Title, nullableString(task.Description), nullableString(task.Location),
		nullableTimeOfDay(task.ScheduledStart), nullableTimeOfDay(task.ScheduledEnd), task.Status,
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT id, title, description, location, scheduled_start, scheduled_end, status, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func scanTask(row scanner) (*core.Task, error) {
	var (
		task           core.Task
		description    sql.NullString
		location       sql.NullString
		scheduledStart sql.NullString
		scheduledEnd   sql.NullString
		status         string
		createdAt      string
		updatedAt      string
	)
	if err := row.Scan(&task.ID, &task.Title, &description, &location, &scheduledStart, &scheduledEnd,
		&status, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Status = core.TaskStatus(status)
	if description.Valid {
		task.Description = &description.String
	}
	if location.Valid {
		task.Location = &location.String
	}
	var err error
	if task.ScheduledStart, err = parseNullableTimeOfDay(scheduledStart); err != nil {
		return nil, err
	}
	if task.ScheduledEnd, err = parseNullableTimeOfDay(scheduledEnd); err != nil {
		return nil, err
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &task, nil
}

func nullableTimeOfDay(value *core.TimeOfDay) any {
	if value == nil {
		return nil
	}
	return value.String()
}

func parseNullableTimeOfDay(value sql.NullString) (*core.TimeOfDay, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	tod, err := core.ParseTimeOfDay(value.String)
	if err != nil {
		return nil, fmt.Errorf("invalid stored time of day %q: %w", value.String, err)
	}
	return &tod, nil
}
