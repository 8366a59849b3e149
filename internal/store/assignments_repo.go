package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldtrack/internal/core"
)

var ErrAssignmentNotFound = core.NotFoundf("assignment not found")

const memberChunkSize = 500

// InsertAssignment stores an assignment and its member rows in one transaction.
func (s *Store) InsertAssignment(ctx context.Context, a *core.Assignment) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert assignment: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO assignments (id, task_id, date, start_time, end_time, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.TaskID, a.Date.String(), nullableTime(a.StartTime), nullableTime(a.EndTime), a.Status,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt)); err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	for i, userID := range a.UserIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assignment_users (assignment_id, user_id, position) VALUES (?, ?, ?)
		`, a.ID, userID, i); err != nil {
			return fmt.Errorf("insert assignment member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert assignment: %w", err)
	}
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (*core.Assignment, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT id, task_id, date, start_time, end_time, status, created_at, updated_at
		FROM assignments WHERE id = ?
	`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}
	if err := s.loadMembers(ctx, []*core.Assignment{a}); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssignments returns every assignment matching the persisted-field filters.
// Pagination is left to the caller because the status filter is computed.
func (s *Store) ListAssignments(ctx context.Context, q core.AssignmentQuery) ([]*core.Assignment, error) {
	var (
		where []string
		args  []any
	)
	if q.UserID != "" {
		where = append(where, `EXISTS (SELECT 1 FROM assignment_users au WHERE au.assignment_id = a.id AND au.user_id = ?)`)
		args = append(args, q.UserID)
	}
	if q.TaskID != "" {
		where = append(where, `a.task_id = ?`)
		args = append(args, q.TaskID)
	}
	if q.Date != nil {
		where = append(where, `a.date = ?`)
		args = append(args, q.Date.String())
	}
	if q.DateFrom != nil {
		where = append(where, `a.date >= ?`)
		args = append(args, q.DateFrom.String())
	}
	if q.DateTo != nil {
		where = append(where, `a.date <= ?`)
		args = append(args, q.DateTo.String())
	}
	query := `SELECT a.id, a.task_id, a.date, a.start_time, a.end_time, a.status, a.created_at, a.updated_at FROM assignments a`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY a.date DESC, a.created_at DESC`

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()
	var out []*core.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkAssignmentStarted performs the pending -> in_progress compare-and-set.
// It reports false when the assignment was not pending (or does not exist).
func (s *Store) MarkAssignmentStarted(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE assignments
		SET status = ?, start_time = ?, end_time = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, core.AssignmentStatusInProgress, formatTime(startedAt), formatTime(time.Now()), id, core.AssignmentStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark assignment started: %w", err)
	}
	return affected(res)
}

// MarkAssignmentCompleted performs the in_progress -> completed compare-and-set.
func (s *Store) MarkAssignmentCompleted(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE assignments
		SET status = ?, end_time = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, core.AssignmentStatusCompleted, formatTime(endedAt), formatTime(time.Now()), id, core.AssignmentStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("mark assignment completed: %w", err)
	}
	return affected(res)
}

// ResetAssignment returns a not-yet-completed assignment to pending and clears its progress markers.
func (s *Store) ResetAssignment(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE assignments
		SET status = ?, start_time = NULL, end_time = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, core.AssignmentStatusPending, formatTime(at), id, core.AssignmentStatusPending, core.AssignmentStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("reset assignment: %w", err)
	}
	return affected(res)
}

// DeleteAssignment removes an assignment unless it is completed.
func (s *Store) DeleteAssignment(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM assignments WHERE id = ? AND status != ?`, id, core.AssignmentStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("delete assignment: %w", err)
	}
	return affected(res)
}

func (s *Store) loadMembers(ctx context.Context, assignments []*core.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}
	byID := make(map[string]*core.Assignment, len(assignments))
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}
	for start := 0; start < len(ids); start += memberChunkSize {
		end := start + memberChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		rows, err := s.reader.QueryContext(ctx, `
			SELECT assignment_id, user_id FROM assignment_users
			WHERE assignment_id IN (`+placeholders(len(chunk))+`)
			ORDER BY assignment_id, position
		`, stringArgs(chunk)...)
		if err != nil {
			return fmt.Errorf("query assignment members: %w", err)
		}
		for rows.Next() {
			var assignmentID, userID string
			if err := rows.Scan(&assignmentID, &userID); err != nil {
				rows.Close()
				return err
			}
			if a, ok := byID[assignmentID]; ok {
				a.UserIDs = append(a.UserIDs, userID)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func scanAssignment(row scanner) (*core.Assignment, error) {
	var (
		a         core.Assignment
		date      string
		startTime sql.NullString
		endTime   sql.NullString
		status    string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&a.ID, &a.TaskID, &date, &startTime, &endTime, &status, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	a.Status = core.AssignmentStatus(status)
	var err error
	if a.Date, err = core.ParseDate(date); err != nil {
		return nil, fmt.Errorf("invalid stored date %q: %w", date, err)
	}
	if a.StartTime, err = parseNullableTime(startTime); err != nil {
		return nil, err
	}
	if a.EndTime, err = parseNullableTime(endTime); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func affected(res sql.Result) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
