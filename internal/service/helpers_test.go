package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/care-assign/internal/geo"
	"github.com/sakif/care-assign/internal/matching"
	"github.com/sakif/care-assign/internal/metrics"
	"github.com/sakif/care-assign/internal/model"
	"github.com/sakif/care-assign/internal/repository"
	"github.com/sakif/care-assign/internal/repository/sqlite"
)

// friday is the fixed "now" of every test: schedule scoring looks at the
// weekday and assignment timestamps come from it.
var friday = time.Date(2026, time.October, 16, 9, 30, 0, 0, time.UTC)

var home = geo.Coordinate{Lat: 39.9204, Lng: 116.4490}

// north returns a point d meters due north of c.
func north(c geo.Coordinate, d float64) geo.Coordinate {
	return geo.Coordinate{Lat: c.Lat + d/111195.0, Lng: c.Lng}
}

// countingMetrics records calls; safe for concurrent use.
type countingMetrics struct {
	metrics.Nop
	mu          sync.Mutex
	created     int
	cancelled   int
	completed   int
	reassigned  int
	capacity    int
	batchCalled int
}

func (c *countingMetrics) AssignmentCreated(model.AssignmentType, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created++
}

func (c *countingMetrics) AssignmentCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled++
}

func (c *countingMetrics) AssignmentCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
}

func (c *countingMetrics) AssignmentReassigned() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reassigned++
}

func (c *countingMetrics) CapacityRejected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity++
}

func (c *countingMetrics) BatchCompleted(int, int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchCalled++
}

type testEnv struct {
	db          *sqlite.DB
	metrics     *countingMetrics
	assignments *AssignmentService
	batch       *BatchService
	directory   *DirectoryService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return wireEnv(t, db)
}

// newFileEnv backs the services with a database file so concurrent
// transactions really contend for the SQLite write lock.
func newFileEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "care.db"), sqlite.WithBusyTimeout(10*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return wireEnv(t, db)
}

func wireEnv(t *testing.T, db *sqlite.DB) *testEnv {
	t.Helper()
	logger := discardLogger()
	m := &countingMetrics{}
	clock := func() time.Time { return friday }

	assignments := NewAssignmentService(db, logger, WithMetrics(m), WithClock(clock))
	scorer := matching.NewScorer(matching.DefaultConfig(), matching.WithClock(clock))
	return &testEnv{
		db:          db,
		metrics:     m,
		assignments: assignments,
		batch:       NewBatchService(db, db, assignments, scorer, logger, WithBatchMetrics(m), WithMaxBatchSize(10)),
		directory:   NewDirectoryService(db, db, logger),
	}
}

func (e *testEnv) user(t *testing.T, id string, loc *geo.Coordinate, specialties ...string) *model.User {
	t.Helper()
	u, err := e.directory.RegisterUser(context.Background(), NewUser{
		ID:          id,
		Name:        "user " + id,
		Location:    loc,
		Specialties: specialties,
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) provider(t *testing.T, id string, center geo.Coordinate, current, max int) *model.Provider {
	t.Helper()
	p, err := e.directory.RegisterProvider(context.Background(), NewProvider{
		ID:                  id,
		Name:                "provider " + id,
		Profession:          "nurse",
		ServiceCenter:       center,
		ServiceRadiusMeters: 5000,
		MaxUsers:            max,
		CurrentUsers:        current,
		Specialties:         []string{"diabetes_care"},
		WorkSchedule:        []model.ScheduleWindow{{Day: time.Friday, Start: "08:00", End: "17:00"}},
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) load(t *testing.T, providerID string) int {
	t.Helper()
	p, err := e.db.GetProvider(context.Background(), providerID)
	require.NoError(t, err)
	return p.CurrentUsers
}

func (e *testEnv) userStatus(t *testing.T, userID string) model.UserStatus {
	t.Helper()
	u, err := e.db.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Status
}

// requireInvariants checks that no provider is over capacity and that no
// user holds more than one active assignment.
func (e *testEnv) requireInvariants(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	providers, err := e.db.ListProviders(ctx, repository.ListOptions{Limit: 100})
	require.NoError(t, err)
	for _, p := range providers {
		require.GreaterOrEqual(t, p.CurrentUsers, 0, "provider %s", p.ID)
		require.LessOrEqual(t, p.CurrentUsers, p.MaxUsers, "provider %s", p.ID)
	}

	active, err := e.db.ListAssignments(ctx, repository.AssignmentFilter{Status: model.AssignmentActive}, repository.ListOptions{Limit: 100})
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, a := range active {
		require.False(t, seen[a.UserID], "user %s has two active assignments", a.UserID)
		seen[a.UserID] = true
	}
}

func manual(userID, providerID string) CreateRequest {
	return CreateRequest{
		UserID:     userID,
		ProviderID: providerID,
		Type:       model.AssignmentManual,
		Actor:      "admin",
	}
}
