package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/care-assign/internal/apperror"
	"github.com/sakif/care-assign/internal/geo"
	"github.com/sakif/care-assign/internal/model"
	"github.com/sakif/care-assign/internal/repository"
)

// =========================================================================
// CREATE
// =========================================================================

func TestCreateAssignment(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home, "diabetes_care")
	env.provider(t, "p1", north(home, 1200), 15, 20)

	score := 67.9
	a, err := env.assignments.CreateAssignment(ctx, CreateRequest{
		UserID:         "u1",
		ProviderID:     "p1",
		Type:           model.AssignmentAutomatic,
		Actor:          "admin",
		Reason:         "weekly run",
		DistanceMeters: 1200,
		Score:          &score,
		Algorithm:      "comprehensive",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, model.AssignmentActive, a.Status)
	assert.Equal(t, friday, a.AssignedAt)
	require.NotNil(t, a.MatchScore)
	assert.Equal(t, 67.9, *a.MatchScore)

	assert.Equal(t, 16, env.load(t, "p1"))
	u, err := env.db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.UserAssigned, u.Status)
	require.NotNil(t, u.CurrentAssignmentID)
	assert.Equal(t, a.ID, *u.CurrentAssignmentID)

	history, err := env.assignments.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.ActionCreated, history[0].Action)
	assert.Equal(t, "admin", history[0].Operator)

	assert.Equal(t, 1, env.metrics.created)
	env.requireInvariants(t)
}

func TestCreateAssignment_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, env *testEnv)
		req     CreateRequest
		wantErr error
	}{
		{
			name:    "missing user ID",
			req:     manual("", "p1"),
			wantErr: apperror.ErrValidation,
		},
		{
			name:    "unknown type",
			req:     CreateRequest{UserID: "u1", ProviderID: "p1", Type: "robotic"},
			wantErr: apperror.ErrValidation,
		},
		{
			name:    "unknown user",
			setup:   func(t *testing.T, env *testEnv) { env.provider(t, "p1", home, 0, 1) },
			req:     manual("ghost", "p1"),
			wantErr: apperror.ErrNotFound,
		},
		{
			name:    "unknown provider",
			setup:   func(t *testing.T, env *testEnv) { env.user(t, "u1", &home) },
			req:     manual("u1", "ghost"),
			wantErr: apperror.ErrNotFound,
		},
		{
			name: "provider full",
			setup: func(t *testing.T, env *testEnv) {
				env.user(t, "u1", &home)
				env.provider(t, "p1", home, 2, 2)
			},
			req:     manual("u1", "p1"),
			wantErr: apperror.ErrCapacityExceeded,
		},
		{
			name: "provider inactive",
			setup: func(t *testing.T, env *testEnv) {
				env.user(t, "u1", &home)
				_, err := env.directory.RegisterProvider(context.Background(), NewProvider{
					ID: "p1", Name: "off duty", ServiceCenter: home, ServiceRadiusMeters: 1000,
					MaxUsers: 3, Status: model.ProviderSuspended,
				})
				require.NoError(t, err)
			},
			req:     manual("u1", "p1"),
			wantErr: apperror.ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)
			if tt.setup != nil {
				tt.setup(t, env)
			}

			_, err := env.assignments.CreateAssignment(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			env.requireInvariants(t)
		})
	}
}

func TestCreateAssignment_CapacityRejectionLeavesNoTrace(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.provider(t, "p1", home, 1, 1)

	_, err := env.assignments.CreateAssignment(ctx, manual("u1", "p1"))
	require.ErrorIs(t, err, apperror.ErrCapacityExceeded)

	assert.Equal(t, 1, env.load(t, "p1"))
	assert.Equal(t, model.UserUnassigned, env.userStatus(t, "u1"))
	all, err := env.assignments.ListAssignments(ctx, repository.AssignmentFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 1, env.metrics.capacity)
}

func TestCreateAssignment_OneActivePerUser(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.provider(t, "p1", home, 0, 5)
	env.provider(t, "p2", home, 0, 5)

	_, err := env.assignments.CreateAssignment(ctx, manual("u1", "p1"))
	require.NoError(t, err)

	_, err = env.assignments.CreateAssignment(ctx, manual("u1", "p2"))
	require.ErrorIs(t, err, apperror.ErrDuplicateActive)

	assert.Equal(t, 1, env.load(t, "p1"))
	assert.Equal(t, 0, env.load(t, "p2"))
	env.requireInvariants(t)
}

// Two transactions race for the provider's last slot.
func TestCreateAssignment_ConcurrentLastSlot(t *testing.T) {
	env := newFileEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.user(t, "u2", &home)
	env.provider(t, "p1", home, 4, 5)

	users := []string{"u1", "u2"}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, id := range users {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.assignments.CreateAssignment(ctx, manual(id, "p1"))
		}()
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperror.ErrCapacityExceeded):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)
	assert.Equal(t, 5, env.load(t, "p1"))
	env.requireInvariants(t)
}

// =========================================================================
// MANUAL
// =========================================================================

func TestManualAssign(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	p := env.provider(t, "p1", north(home, 1200), 0, 3)

	a, err := env.assignments.ManualAssign(ctx, "u1", "p1", "family request", "admin")
	require.NoError(t, err)

	assert.Equal(t, model.AssignmentManual, a.Type)
	assert.Nil(t, a.MatchScore)
	assert.Equal(t, "family request", a.Reason)
	assert.InDelta(t, geo.DistanceMeters(home, p.ServiceCenter), a.DistanceMeters, 0.01)
	assert.Equal(t, 1, env.load(t, "p1"))
}

func TestManualAssign_NoLocationGivesZeroDistance(t *testing.T) {
	env := newEnv(t)
	env.user(t, "u1", nil)
	env.provider(t, "p1", home, 0, 3)

	a, err := env.assignments.ManualAssign(context.Background(), "u1", "p1", "", "admin")
	require.NoError(t, err)
	assert.Zero(t, a.DistanceMeters)
}

func TestReasonLimit_CountsCharactersNotBytes(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.user(t, "u2", &home)
	env.provider(t, "p1", home, 0, 3)

	// 500 three-byte characters: at the limit in characters, 1500 bytes.
	notes := strings.Repeat("家", MaxReasonLength)
	a, err := env.assignments.ManualAssign(ctx, "u1", "p1", notes, "admin")
	require.NoError(t, err)
	assert.Equal(t, notes, a.Reason)

	_, err = env.assignments.ManualAssign(ctx, "u2", "p1", notes+"家", "admin")
	require.ErrorIs(t, err, apperror.ErrValidation)

	_, err = env.assignments.CancelAssignment(ctx, a.ID, strings.Repeat("搬", 300), "admin")
	require.NoError(t, err)
}

// =========================================================================
// CANCEL / COMPLETE
// =========================================================================

func TestCancelAssignment(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.provider(t, "p1", home, 0, 2)

	a, err := env.assignments.CreateAssignment(ctx, manual("u1", "p1"))
	require.NoError(t, err)

	cancelled, err := env.assignments.CancelAssignment(ctx, a.ID, "moved away", "admin")
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, friday, *cancelled.CancelledAt)

	assert.Equal(t, 0, env.load(t, "p1"))
	u, err := env.db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.UserUnassigned, u.Status)
	assert.Nil(t, u.CurrentAssignmentID)

	history, err := env.assignments.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ActionCancelled, history[1].Action)
	assert.Equal(t, "moved away", history[1].Reason)
}

func TestCancelAssignment_TwiceIsInvalidAndHarmless(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.user(t, "u2", &home)
	env.provider(t, "p1", home, 0, 3)

	a, err := env.assignments.CreateAssignment(ctx, manual("u1", "p1"))
	require.NoError(t, err)
	_, err = env.assignments.CreateAssignment(ctx, manual("u2", "p1"))
	require.NoError(t, err)

	_, err = env.assignments.CancelAssignment(ctx, a.ID, "", "admin")
	require.NoError(t, err)
	require.Equal(t, 1, env.load(t, "p1"))

	_, err = env.assignments.CancelAssignment(ctx, a.ID, "", "admin")
	require.ErrorIs(t, err, apperror.ErrInvalidState)
	assert.Equal(t, 1, env.load(t, "p1"), "second cancel must not touch the load")

	history, err := env.assignments.History(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCancelAssignment_NotFound(t *testing.T) {
	env := newEnv(t)

	_, err := env.assignments.CancelAssignment(context.Background(), "missing", "", "admin")
	require.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCompleteAssignment(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.provider(t, "p1", home, 0, 2)

	a, err := env.assignments.CreateAssignment(ctx, manual("u1", "p1"))
	require.NoError(t, err)

	done, err := env.assignments.CompleteAssignment(ctx, a.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, 0, env.load(t, "p1"))
	assert.Equal(t, model.UserUnassigned, env.userStatus(t, "u1"))

	_, err = env.assignments.CancelAssignment(ctx, a.ID, "", "admin")
	require.ErrorIs(t, err, apperror.ErrInvalidState)
	_, err = env.assignments.CompleteAssignment(ctx, a.ID, "admin")
	require.ErrorIs(t, err, apperror.ErrInvalidState)

	// The user can be assigned again once the old assignment is terminal.
	_, err = env.assignments.CreateAssignment(ctx, manual("u1", "p1"))
	require.NoError(t, err)
	env.requireInvariants(t)
}

// =========================================================================
// START SERVICE
// =========================================================================

func TestStartService(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.provider(t, "p1", home, 0, 2)

	a, err := env.assignments.CreateAssignment(ctx, manual("u1", "p1"))
	require.NoError(t, err)

	u, err := env.assignments.StartService(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UserInService, u.Status)
	assert.Equal(t, model.UserInService, env.userStatus(t, "u1"))

	_, err = env.assignments.StartService(ctx, a.ID)
	require.ErrorIs(t, err, apperror.ErrInvalidState)

	history, err := env.assignments.History(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "starting service writes no history")

	_, err = env.assignments.CompleteAssignment(ctx, a.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.UserUnassigned, env.userStatus(t, "u1"))
}

// =========================================================================
// REASSIGN
// =========================================================================

func TestReassign(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.provider(t, "p1", home, 0, 2)
	env.provider(t, "p2", north(home, 800), 0, 2)

	first, err := env.assignments.CreateAssignment(ctx, manual("u1", "p1"))
	require.NoError(t, err)

	res, err := env.assignments.Reassign(ctx, "u1", "p2", "closer nurse", "admin")
	require.NoError(t, err)

	require.NotNil(t, res.Previous)
	assert.Equal(t, first.ID, res.Previous.ID)
	assert.Equal(t, model.AssignmentCancelled, res.Previous.Status)

	assert.Equal(t, "p2", res.Current.ProviderID)
	require.NotNil(t, res.Current.ReassignedFrom)
	assert.Equal(t, first.ID, *res.Current.ReassignedFrom)
	assert.InDelta(t, 800, res.Current.DistanceMeters, 1)

	assert.Equal(t, 0, env.load(t, "p1"))
	assert.Equal(t, 1, env.load(t, "p2"))

	history, err := env.assignments.History(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ActionReassigned, history[1].Action)

	assert.Equal(t, 1, env.metrics.reassigned)
	env.requireInvariants(t)
}

func TestReassign_FullTargetChangesNothing(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.provider(t, "p1", home, 0, 2)
	env.provider(t, "p2", home, 1, 1)

	first, err := env.assignments.CreateAssignment(ctx, manual("u1", "p1"))
	require.NoError(t, err)

	_, err = env.assignments.Reassign(ctx, "u1", "p2", "", "admin")
	require.ErrorIs(t, err, apperror.ErrCapacityExceeded)

	still, err := env.assignments.GetAssignment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentActive, still.Status)
	assert.Equal(t, 1, env.load(t, "p1"))
	assert.Equal(t, model.UserAssigned, env.userStatus(t, "u1"))
}

func TestReassign_SameProvider(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.provider(t, "p1", home, 0, 2)

	_, err := env.assignments.CreateAssignment(ctx, manual("u1", "p1"))
	require.NoError(t, err)

	_, err = env.assignments.Reassign(ctx, "u1", "p1", "", "admin")
	require.ErrorIs(t, err, apperror.ErrInvalidState)
}

func TestReassign_UnassignedUser(t *testing.T) {
	env := newEnv(t)
	env.user(t, "u1", &home)
	env.provider(t, "p1", home, 0, 2)

	res, err := env.assignments.Reassign(context.Background(), "u1", "p1", "", "admin")
	require.NoError(t, err)
	assert.Nil(t, res.Previous)
	assert.Nil(t, res.Current.ReassignedFrom)
}

// =========================================================================
// READS
// =========================================================================

func TestListAssignments(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "u1", &home)
	env.user(t, "u2", &home)
	env.provider(t, "p1", home, 0, 5)

	a, err := env.assignments.CreateAssignment(ctx, manual("u1", "p1"))
	require.NoError(t, err)
	_, err = env.assignments.CreateAssignment(ctx, manual("u2", "p1"))
	require.NoError(t, err)
	_, err = env.assignments.CancelAssignment(ctx, a.ID, "", "admin")
	require.NoError(t, err)

	active, err := env.assignments.ListAssignments(ctx, repository.AssignmentFilter{Status: model.AssignmentActive}, 0, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "u2", active[0].UserID)

	_, err = env.assignments.ListAssignments(ctx, repository.AssignmentFilter{Status: "paused"}, 0, 0)
	require.ErrorIs(t, err, apperror.ErrValidation)
}

func TestHistory_UnknownAssignment(t *testing.T) {
	env := newEnv(t)

	_, err := env.assignments.History(context.Background(), "missing")
	require.ErrorIs(t, err, apperror.ErrNotFound)
}
