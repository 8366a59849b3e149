package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"fieldtrack/internal/core"
)

const locationColumns = `id, assignment_id, user_id, latitude, longitude, accuracy, address, tracking_status, recorded_at, created_at`

func (s *Store) InsertLocation(ctx context.Context, sample *core.LocationSample) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO locations (`+locationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sample.ID, sample.AssignmentID, sample.UserID, sample.Latitude, sample.Longitude,
		nullableFloat(sample.Accuracy), nullableString(sample.Address), sample.TrackingStatus,
		formatTime(sample.RecordedAt), formatTime(sample.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

// ListLocations returns the samples of an assignment, newest first unless q.Ascending.
func (s *Store) ListLocations(ctx context.Context, q core.LocationQuery) ([]*core.LocationSample, error) {
	where, args := locationFilter(q.AssignmentID, q.UserID, q.Range)
	query := `SELECT ` + locationColumns + ` FROM locations` + where
	if q.Ascending {
		query += ` ORDER BY recorded_at ASC, id ASC`
	} else {
		query += ` ORDER BY recorded_at DESC, id DESC`
	}
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Offset)
	}
	return s.queryLocations(ctx, query, args...)
}

func (s *Store) CountLocations(ctx context.Context, q core.LocationQuery) (int, error) {
	where, args := locationFilter(q.AssignmentID, q.UserID, q.Range)
	var count int
	if err := s.reader.QueryRowContext(ctx, `SELECT COUNT(1) FROM locations`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count locations: %w", err)
	}
	return count, nil
}

// LatestLocations returns at most one sample per user: the one with the greatest recorded_at.
func (s *Store) LatestLocations(ctx context.Context, assignmentID string) ([]*core.LocationSample, error) {
	samples, err := s.queryLocations(ctx, `
		SELECT `+locationColumns+` FROM locations l
		WHERE l.assignment_id = ?
		  AND l.recorded_at = (
			SELECT MAX(recorded_at) FROM locations m
			WHERE m.assignment_id = l.assignment_id AND m.user_id = l.user_id
		  )
		ORDER BY l.user_id, l.created_at DESC, l.id DESC
	`, assignmentID)
	if err != nil {
		return nil, err
	}
	// Samples sharing the max timestamp collapse to the most recently stored one.
	seen := make(map[string]struct{}, len(samples))
	out := samples[:0]
	for _, sample := range samples {
		if _, ok := seen[sample.UserID]; ok {
			continue
		}
		seen[sample.UserID] = struct{}{}
		out = append(out, sample)
	}
	return out, nil
}

// LocationsInBox returns the samples whose coordinates fall inside q.Box.
func (s *Store) LocationsInBox(ctx context.Context, q core.BoxQuery) ([]*core.LocationSample, error) {
	where, args := locationFilter(q.AssignmentID, "", q.Range)
	clauses := []string{`latitude BETWEEN ? AND ?`}
	args = append(args, q.Box.MinLat, q.Box.MaxLat)
	if !q.Box.AllLongitudes {
		clauses = append(clauses, `longitude BETWEEN ? AND ?`)
		args = append(args, q.Box.MinLon, q.Box.MaxLon)
	}
	if where == "" {
		where = ` WHERE ` + strings.Join(clauses, ` AND `)
	} else {
		where += ` AND ` + strings.Join(clauses, ` AND `)
	}
	return s.queryLocations(ctx, `SELECT `+locationColumns+` FROM locations`+where, args...)
}

// LocationStats aggregates counts and the recorded_at span within scope.
func (s *Store) LocationStats(ctx context.Context, scope core.StatsScope) (*core.LocationStats, error) {
	where, args := locationFilter(scope.AssignmentID, scope.UserID, core.TimeRange{})

	var (
		stats        core.LocationStats
		auto, manual sql.NullInt64
		first, last  sql.NullString
	)
	err := s.reader.QueryRowContext(ctx, `
		SELECT COUNT(1),
		       SUM(CASE WHEN tracking_status = 'auto' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN tracking_status = 'manual' THEN 1 ELSE 0 END),
		       MIN(recorded_at),
		       MAX(recorded_at)
		FROM locations`+where, args...).Scan(&stats.Total, &auto, &manual, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("location stats: %w", err)
	}
	stats.Auto = int(auto.Int64)
	stats.Manual = int(manual.Int64)
	if stats.FirstRecordedAt, err = parseNullableTime(first); err != nil {
		return nil, err
	}
	if stats.LastRecordedAt, err = parseNullableTime(last); err != nil {
		return nil, err
	}
	if stats.ByUser, err = s.groupCount(ctx, "user_id", where, args); err != nil {
		return nil, err
	}
	if stats.ByAssignment, err = s.groupCount(ctx, "assignment_id", where, args); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *Store) groupCount(ctx context.Context, column, where string, args []any) (map[string]int, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT `+column+`, COUNT(1) FROM locations`+where+` GROUP BY `+column, args...)
	if err != nil {
		return nil, fmt.Errorf("group locations by %s: %w", column, err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		out[key] = count
	}
	return out, rows.Err()
}

func (s *Store) queryLocations(ctx context.Context, query string, args ...any) ([]*core.LocationSample, error) {
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()
	out := []*core.LocationSample{}
	for rows.Next() {
		sample, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func locationFilter(assignmentID, userID string, r core.TimeRange) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if assignmentID != "" {
		clauses = append(clauses, `assignment_id = ?`)
		args = append(args, assignmentID)
	}
	if userID != "" {
		clauses = append(clauses, `user_id = ?`)
		args = append(args, userID)
	}
	if r.From != nil {
		clauses = append(clauses, `recorded_at >= ?`)
		args = append(args, formatTime(*r.From))
	}
	if r.To != nil {
		clauses = append(clauses, `recorded_at <= ?`)
		args = append(args, formatTime(*r.To))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(clauses, ` AND `), args
}

func scanLocation(row scanner) (*core.LocationSample, error) {
	var (
		sample     core.LocationSample
		accuracy   sql.NullFloat64
		address    sql.NullString
		tracking   string
		recordedAt string
		createdAt  string
	)
	if err := row.Scan(&sample.ID, &sample.AssignmentID, &sample.UserID, &sample.Latitude, &sample.Longitude,
		&accuracy, &address, &tracking, &recordedAt, &createdAt); err != nil {
		return nil, fmt.Errorf("scan location: %w", err)
	}
	sample.TrackingStatus = core.TrackingStatus(tracking)
	if accuracy.Valid {
		sample.Accuracy = &accuracy.Float64
	}
	if address.Valid {
		sample.Address = &address.String
	}
	var err error
	if sample.RecordedAt, err = parseTime(recordedAt); err != nil {
		return nil, err
	}
	if sample.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &sample, nil
}
