package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/care-assign/internal/apperror"
	"github.com/sakif/care-assign/internal/geo"
	"github.com/sakif/care-assign/internal/model"
	"github.com/sakif/care-assign/internal/repository"
)

const userColumns = `id, name, lat, lng, specialties, current_assignment_id, status, created_at, updated_at`

// CreateUser registers a care recipient. An empty ID is filled with an xid.
// New users always start unassigned.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Status = model.UserUnassigned
	user.CurrentAssignmentID = nil

	specialties, err := encodeStrings(user.Specialties)
	if err != nil {
		return fmt.Errorf("sqlite: encoding user specialties: %w", err)
	}

	var lat, lng sql.NullFloat64
	if user.Location != nil {
		lat = sql.NullFloat64{Float64: user.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: user.Location.Lng, Valid: true}
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, lat, lng, specialties, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, lat, lng, specialties, user.Status, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "users.id") {
			return apperror.Conflict("user", user.ID)
		}
		return fmt.Errorf("sqlite: creating user: %w", err)
	}
	return nil
}

// GetUser returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, db.conn, id)
}

// ListUsers pages through users ordered by ID.
func (db *DB) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	limit, offset := clampList(opts)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

func getUser(ctx context.Context, q querier, id string) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u           model.User
		lat, lng    sql.NullFloat64
		specialties string
		current     sql.NullString
	)
	if err := row.Scan(
		&u.ID, &u.Name, &lat, &lng, &specialties, &current, &u.Status,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if lat.Valid && lng.Valid {
		u.Location = &geo.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
	}
	if current.Valid {
		id := current.String
		u.CurrentAssignmentID = &id
	}
	if err := json.Unmarshal([]byte(specialties), &u.Specialties); err != nil {
		return nil, fmt.Errorf("decoding specialties of user %s: %w", u.ID, err)
	}
	return &u, nil
}

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}
