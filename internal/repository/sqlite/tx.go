package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/care-assign/internal/apperror"
	"github.com/sakif/care-assign/internal/model"
	"github.com/sakif/care-assign/internal/repository"
)

// txStore is the AssignmentTx handed to RunInTx callbacks.
type txStore struct {
	tx *sql.Tx
}

var _ repository.AssignmentTx = (*txStore)(nil)

func (s *txStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, s.tx, id)
}

func (s *txStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	return getProvider(ctx, s.tx, id)
}

func (s *txStore) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	return getAssignment(ctx, s.tx, id)
}

func (s *txStore) ActiveAssignmentForUser(ctx context.Context, userID string) (*model.Assignment, error) {
	a, err := scanAssignment(s.tx.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE user_id = ? AND status = ?`,
		userID, model.AssignmentActive))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: finding active assignment of user %s: %w", userID, err)
	}
	return a, nil
}

// IncrementLoad is a single conditional UPDATE: the capacity check and the
// increment happen in one statement under the write lock.
func (s *txStore) IncrementLoad(ctx context.Context, providerID string) error {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE providers
		 SET current_users = current_users + 1, updated_at = ?
		 WHERE id = ? AND current_users < max_users`,
		time.Now().UTC(), providerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: incrementing load of provider %s: %w", providerID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: either the provider is gone or it is full.
	if _, err := getProvider(ctx, s.tx, providerID); err != nil {
		return err
	}
	return apperror.CapacityExceeded(providerID)
}

// DecrementLoad never takes current_users below zero.
func (s *txStore) DecrementLoad(ctx context.Context, providerID string) error {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE providers
		 SET current_users = MAX(current_users - 1, 0), updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), providerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: decrementing load of provider %s: %w", providerID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("provider", providerID)
	}
	return nil
}

func (s *txStore) SetUserState(ctx context.Context, userID string, status model.UserStatus, assignmentID *string) error {
	var current sql.NullString
	if assignmentID != nil {
		current = sql.NullString{String: *assignmentID, Valid: true}
	}

	res, err := s.tx.ExecContext(ctx,
		`UPDATE users SET status = ?, current_assignment_id = ?, updated_at = ? WHERE id = ?`,
		status, current, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// InsertAssignment maps a violation of the one-active-per-user index to
// apperror.ErrDuplicateActive.
func (s *txStore) InsertAssignment(ctx context.Context, a *model.Assignment) error {
	var score sql.NullFloat64
	if a.MatchScore != nil {
		score = sql.NullFloat64{Float64: *a.MatchScore, Valid: true}
	}
	var from sql.NullString
	if a.ReassignedFrom != nil {
		from = sql.NullString{String: *a.ReassignedFrom, Valid: true}
	}

	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO assignments (`+assignmentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.ProviderID, a.Type, a.AssignedBy, a.Reason, a.DistanceMeters, score,
		a.Algorithm, a.Status, from, a.AssignedAt, nullTime(a.CancelledAt), nullTime(a.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "assignments.user_id") {
			return apperror.DuplicateActive(a.UserID)
		}
		if isUniqueViolation(err, "assignments.id") {
			return apperror.Conflict("assignment", a.ID)
		}
		return fmt.Errorf("sqlite: inserting assignment: %w", err)
	}
	return nil
}

// UpdateAssignmentStatus persists a's status and terminal timestamps.
func (s *txStore) UpdateAssignmentStatus(ctx context.Context, a *model.Assignment) error {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE assignments SET status = ?, cancelled_at = ?, completed_at = ? WHERE id = ?`,
		a.Status, nullTime(a.CancelledAt), nullTime(a.CompletedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating assignment %s: %w", a.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("assignment", a.ID)
	}
	return nil
}

func (s *txStore) AppendHistory(ctx context.Context, h *model.AssignmentHistory) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO assignment_history (`+historyColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.AssignmentID, h.Action, h.Reason, h.Operator, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending history for %s: %w", h.AssignmentID, err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
