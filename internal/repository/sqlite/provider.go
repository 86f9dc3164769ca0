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
	"github.com/sakif/care-assign/internal/repository"
)

const providerColumns = `id, name, profession, service_center_lat, service_center_lng, service_radius,
	max_users, current_users, specialties, work_schedule, status, rating, created_at, updated_at`

// CreateProvider registers a provider. An empty ID is filled with an xid.
// CurrentUsers is taken as given so an existing caseload can be imported.
func (db *DB) CreateProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = xid.New().String()
	}
	if p.Status == "" {
		p.Status = model.ProviderActive
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	specialties, err := encodeStrings(p.Specialties)
	if err != nil {
		return fmt.Errorf("sqlite: encoding provider specialties: %w", err)
	}
	schedule := p.WorkSchedule
	if schedule == nil {
		schedule = []model.ScheduleWindow{}
	}
	scheduleJSON, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("sqlite: encoding work schedule: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO providers (`+providerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Profession, p.ServiceCenter.Lat, p.ServiceCenter.Lng, p.ServiceRadiusMeters,
		p.MaxUsers, p.CurrentUsers, specialties, string(scheduleJSON), p.Status, p.Rating,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "providers.id") {
			return apperror.Conflict("provider", p.ID)
		}
		return fmt.Errorf("sqlite: creating provider: %w", err)
	}
	return nil
}

// GetProvider returns apperror.ErrNotFound if no provider exists with that ID.
func (db *DB) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	return getProvider(ctx, db.conn, id)
}

// ListProviders pages through all providers ordered by ID.
func (db *DB) ListProviders(ctx context.Context, opts repository.ListOptions) ([]model.Provider, error) {
	limit, offset := clampList(opts)
	return queryProviders(ctx, db.conn,
		`SELECT `+providerColumns+` FROM providers ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset)
}

// ListActiveProviders returns the matching snapshot: active providers with
// spare capacity, ordered by ID.
func (db *DB) ListActiveProviders(ctx context.Context) ([]model.Provider, error) {
	return queryProviders(ctx, db.conn,
		`SELECT `+providerColumns+` FROM providers
		 WHERE status = ? AND current_users < max_users
		 ORDER BY id`,
		model.ProviderActive)
}

func getProvider(ctx context.Context, q querier, id string) (*model.Provider, error) {
	p, err := scanProvider(q.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("provider", id)
		}
		return nil, fmt.Errorf("sqlite: getting provider %s: %w", id, err)
	}
	return p, nil
}

func queryProviders(ctx context.Context, q querier, query string, args ...any) ([]model.Provider, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing providers: %w", err)
	}
	defer rows.Close()

	var providers []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning provider row: %w", err)
		}
		providers = append(providers, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating providers: %w", err)
	}
	return providers, nil
}

func scanProvider(row rowScanner) (*model.Provider, error) {
	var (
		p                     model.Provider
		specialties, schedule string
	)
	if err := row.Scan(
		&p.ID, &p.Name, &p.Profession, &p.ServiceCenter.Lat, &p.ServiceCenter.Lng,
		&p.ServiceRadiusMeters, &p.MaxUsers, &p.CurrentUsers, &specialties, &schedule,
		&p.Status, &p.Rating, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(specialties), &p.Specialties); err != nil {
		return nil, fmt.Errorf("decoding specialties of provider %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(schedule), &p.WorkSchedule); err != nil {
		return nil, fmt.Errorf("decoding work schedule of provider %s: %w", p.ID, err)
	}
	return &p, nil
}
