package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sakif/care-assign/internal/apperror"
	"github.com/sakif/care-assign/internal/model"
	"github.com/sakif/care-assign/internal/repository"
)

const assignmentColumns = `id, user_id, provider_id, type, assigned_by, reason, distance, match_score,
	algorithm, status, reassigned_from, assigned_at, cancelled_at, completed_at`

const historyColumns = `id, assignment_id, action, reason, operator, created_at`

// GetAssignment returns apperror.ErrNotFound if no assignment exists with that ID.
func (db *DB) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	return getAssignment(ctx, db.conn, id)
}

// ListAssignments returns assignments matching filter, newest first.
func (db *DB) ListAssignments(ctx context.Context, filter repository.AssignmentFilter, opts repository.ListOptions) ([]model.Assignment, error) {
	limit, offset := clampList(opts)

	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ProviderID != "" {
		where = append(where, "provider_id = ?")
		args = append(args, filter.ProviderID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + assignmentColumns + ` FROM assignments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY assigned_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing assignments: %w", err)
	}
	defer rows.Close()

	assignments := make([]model.Assignment, 0, limit)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning assignment row: %w", err)
		}
		assignments = append(assignments, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating assignments: %w", err)
	}
	return assignments, nil
}

// ListHistory returns the audit trail of one assignment in the order it was written.
func (db *DB) ListHistory(ctx context.Context, assignmentID string) ([]model.AssignmentHistory, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM assignment_history
		 WHERE assignment_id = ?
		 ORDER BY created_at, rowid`,
		assignmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing history: %w", err)
	}
	defer rows.Close()

	var history []model.AssignmentHistory
	for rows.Next() {
		var h model.AssignmentHistory
		if err := rows.Scan(&h.ID, &h.AssignmentID, &h.Action, &h.Reason, &h.Operator, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning history row: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating history: %w", err)
	}
	return history, nil
}

func getAssignment(ctx context.Context, q querier, id string) (*model.Assignment, error) {
	a, err := scanAssignment(q.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("assignment", id)
		}
		return nil, fmt.Errorf("sqlite: getting assignment %s: %w", id, err)
	}
	return a, nil
}

func scanAssignment(row rowScanner) (*model.Assignment, error) {
	var (
		a                      model.Assignment
		score                  sql.NullFloat64
		reassignedFrom         sql.NullString
		cancelledAt, completed sql.NullTime
	)
	if err := row.Scan(
		&a.ID, &a.UserID, &a.ProviderID, &a.Type, &a.AssignedBy, &a.Reason,
		&a.DistanceMeters, &score, &a.Algorithm, &a.Status, &reassignedFrom,
		&a.AssignedAt, &cancelledAt, &completed,
	); err != nil {
		return nil, err
	}

	if score.Valid {
		s := score.Float64
		a.MatchScore = &s
	}
	if reassignedFrom.Valid {
		from := reassignedFrom.String
		a.ReassignedFrom = &from
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		a.CancelledAt = &t
	}
	if completed.Valid {
		t := completed.Time
		a.CompletedAt = &t
	}
	return &a, nil
}
