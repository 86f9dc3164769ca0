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
	"github.com/sakif/care-assign/internal/model"
)

// UpsertOperator creates an operator or updates the password and permissions
// of the existing one with the same login.
//
// Uses SQLite's ON CONFLICT clause, so the operation is atomic. On return
// op.ID and op.CreatedAt hold the stored values.
func (db *DB) UpsertOperator(ctx context.Context, op *model.Operator) error {
	if op.ID == "" {
		op.ID = xid.New().String()
	}
	now := time.Now().UTC()

	perms := op.Permissions
	if perms == nil {
		perms = []string{}
	}
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("sqlite: encoding permissions: %w", err)
	}

	err = db.conn.QueryRowContext(ctx,
		`INSERT INTO operators (id, login, password_hash, permissions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(login) DO UPDATE SET
		   password_hash = excluded.password_hash,
		   permissions   = excluded.permissions,
		   updated_at    = excluded.updated_at
		 RETURNING id, created_at, updated_at`,
		op.ID, op.Login, op.PasswordHash, string(permsJSON), now, now,
	).Scan(&op.ID, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: upserting operator: %w", err)
	}
	return nil
}

// GetOperatorByLogin returns apperror.ErrNotFound for an unknown login.
func (db *DB) GetOperatorByLogin(ctx context.Context, login string) (*model.Operator, error) {
	var (
		op    model.Operator
		perms string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, login, password_hash, permissions, created_at, updated_at
		 FROM operators WHERE login = ?`,
		login,
	).Scan(&op.ID, &op.Login, &op.PasswordHash, &perms, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("operator", login)
		}
		return nil, fmt.Errorf("sqlite: getting operator: %w", err)
	}

	if err := json.Unmarshal([]byte(perms), &op.Permissions); err != nil {
		return nil, fmt.Errorf("sqlite: decoding permissions of operator %s: %w", op.ID, err)
	}
	return &op, nil
}
