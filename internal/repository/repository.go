// Package repository declares the storage contracts the services depend on.
//
// The lifecycle manager never touches the store directly: it asks the Store
// to run a function inside one transaction and receives an AssignmentTx
// scoped to that transaction. Everything done through the AssignmentTx
// commits or rolls back together.
package repository

import (
	"context"

	"github.com/sakif/care-assign/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// AssignmentFilter narrows ListAssignments. Empty fields match everything.
type AssignmentFilter struct {
	UserID     string
	ProviderID string
	Status     model.AssignmentStatus
}

// UserRepository registers and reads care recipients.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context, opts ListOptions) ([]model.User, error)
}

// ProviderRepository registers and reads providers.
type ProviderRepository interface {
	CreateProvider(ctx context.Context, provider *model.Provider) error
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	ListProviders(ctx context.Context, opts ListOptions) ([]model.Provider, error)
	// ListActiveProviders returns every active provider with spare capacity,
	// ordered by ID. It is the snapshot the matcher filters and scores.
	ListActiveProviders(ctx context.Context) ([]model.Provider, error)
}

// OperatorRepository stores the admin accounts that call the engine.
type OperatorRepository interface {
	UpsertOperator(ctx context.Context, op *model.Operator) error
	GetOperatorByLogin(ctx context.Context, login string) (*model.Operator, error)
}

// AssignmentReader is the read side of assignments.
type AssignmentReader interface {
	GetAssignment(ctx context.Context, id string) (*model.Assignment, error)
	ListAssignments(ctx context.Context, filter AssignmentFilter, opts ListOptions) ([]model.Assignment, error)
	ListHistory(ctx context.Context, assignmentID string) ([]model.AssignmentHistory, error)
}

// AssignmentTx is the set of operations available inside one lifecycle
// transaction. Implementations must make IncrementLoad a single atomic
// check-and-increment.
type AssignmentTx interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	GetAssignment(ctx context.Context, id string) (*model.Assignment, error)
	// ActiveAssignmentForUser returns (nil, nil) when the user has none.
	ActiveAssignmentForUser(ctx context.Context, userID string) (*model.Assignment, error)

	// IncrementLoad adds one to current_users unless the provider is full,
	// in which case it returns apperror.ErrCapacityExceeded.
	IncrementLoad(ctx context.Context, providerID string) error
	DecrementLoad(ctx context.Context, providerID string) error

	SetUserState(ctx context.Context, userID string, status model.UserStatus, assignmentID *string) error
	InsertAssignment(ctx context.Context, a *model.Assignment) error
	UpdateAssignmentStatus(ctx context.Context, a *model.Assignment) error
	AppendHistory(ctx context.Context, h *model.AssignmentHistory) error
}

// AssignmentStore runs lifecycle transactions and serves reads.
type AssignmentStore interface {
	AssignmentReader
	// RunInTx calls fn inside one transaction. The transaction commits if fn
	// returns nil and rolls back otherwise; fn's error is returned as is.
	RunInTx(ctx context.Context, fn func(tx AssignmentTx) error) error
}
