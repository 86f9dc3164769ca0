// Package service holds the business rules of the assignment engine.
//
// THE THREE LAYERS:
//
//	Handler (HTTP layer)     → decodes requests, maps errors to status codes
//	Service (business layer) → validates, enforces lifecycle rules, logs
//	Repository (data layer)  → reads and writes SQLite
//
// No service knows about HTTP status codes or SQL. Services take repository
// interfaces, so tests can run them against an in-memory database or a fake.
//
// THE DEPENDENCY CHAIN:
//
//	server.New creates:  sqlite.DB → services → handlers
//	At runtime:          Handler → Service → AssignmentStore.RunInTx → AssignmentTx
//
// WHO MAY MUTATE WHAT?
// AssignmentService is the only code that changes assignments, provider load
// (current_users) or user status, and it does so only inside one repository
// transaction per operation:
//
//	create   → IncrementLoad, SetUserState(assigned), InsertAssignment, AppendHistory(created)
//	cancel   → DecrementLoad, SetUserState(unassigned), UpdateAssignmentStatus, AppendHistory(cancelled)
//	complete → DecrementLoad, SetUserState(unassigned), UpdateAssignmentStatus, AppendHistory(completed)
//	reassign → cancel (history: reassigned) then create, in the same transaction
//
// BatchService, DirectoryService and the handlers never write those fields
// themselves. A failed step rolls the whole transaction back, so a capacity
// rejection leaves no row, no history entry and no load change behind.
//
// ERRORS:
// Domain failures are *apperror.AppError values (ErrCapacityExceeded,
// ErrDuplicateActive, ...). They are logged at Info: they are answers, not
// faults. Anything else is a store failure and is logged at Error.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/xid"

	"github.com/sakif/care-assign/internal/apperror"
	"github.com/sakif/care-assign/internal/geo"
	"github.com/sakif/care-assign/internal/metrics"
	"github.com/sakif/care-assign/internal/model"
	"github.com/sakif/care-assign/internal/repository"
)

const (
	MaxReasonLength  = 500
	DefaultListLimit = 20
	MaxListLimit     = 100

	// DefaultTxTimeout bounds one lifecycle transaction.
	DefaultTxTimeout = 5 * time.Second
)

// AssignmentService runs the assignment state machine:
//
//	(none) -> active -> completed | cancelled
//
// Terminal assignments never change again. Reassignment cancels the current
// assignment and creates a new one; a provider is never swapped in place.
type AssignmentService struct {
	store     repository.AssignmentStore
	metrics   metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
	txTimeout time.Duration
}

// AssignmentOption configures an AssignmentService.
type AssignmentOption func(*AssignmentService)

func WithMetrics(c metrics.Collector) AssignmentOption {
	return func(s *AssignmentService) {
		if c != nil {
			s.metrics = c
		}
	}
}

func WithTxTimeout(d time.Duration) AssignmentOption {
	return func(s *AssignmentService) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// WithClock overrides the source of assignment and history timestamps.
func WithClock(now func() time.Time) AssignmentOption {
	return func(s *AssignmentService) {
		s.now = now
	}
}

func NewAssignmentService(store repository.AssignmentStore, logger *slog.Logger, opts ...AssignmentOption) *AssignmentService {
	s := &AssignmentService{
		store:     store,
		metrics:   metrics.NewNop(),
		logger:    logger,
		now:       time.Now,
		txTimeout: DefaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest describes one assignment to create. Score is nil for manual
// assignments.
type CreateRequest struct {
	UserID         string
	ProviderID     string
	Type           model.AssignmentType
	Actor          string
	Reason         string
	DistanceMeters float64
	Score          *float64
	Algorithm      string
}

func (r *CreateRequest) validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.Reason = strings.TrimSpace(r.Reason)

	if r.UserID == "" {
		return apperror.ValidationFailed("userId", "user ID is required")
	}
	if r.ProviderID == "" {
		return apperror.ValidationFailed("providerId", "provider ID is required")
	}
	if r.Type != model.AssignmentManual && r.Type != model.AssignmentAutomatic {
		return apperror.ValidationFailed("type", fmt.Sprintf("unknown assignment type %q", r.Type))
	}
	if utf8.RuneCountInString(r.Reason) > MaxReasonLength {
		return apperror.ValidationFailed("reason",
			fmt.Sprintf("reason must be %d characters or less", MaxReasonLength))
	}
	if r.DistanceMeters < 0 || math.IsNaN(r.DistanceMeters) || math.IsInf(r.DistanceMeters, 0) {
		return apperror.ValidationFailed("distance", "distance must be a non-negative number")
	}
	return nil
}

// CreateAssignment binds a user to a provider.
//
// It fails with ErrDuplicateActive if the user already has an active
// assignment and with ErrCapacityExceeded if the provider is full when the
// transaction runs. On success the provider's load, the user's status, the
// assignment row and its "created" history entry commit together.
func (s *AssignmentService) CreateAssignment(ctx context.Context, req CreateRequest) (*model.Assignment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var created *model.Assignment
	err := s.runInTx(ctx, func(tx repository.AssignmentTx) error {
		a, err := s.create(ctx, tx, req, false, nil)
		created = a
		return err
	})
	if err != nil {
		s.fail("create assignment", err,
			slog.String("user_id", req.UserID),
			slog.String("provider_id", req.ProviderID),
		)
		return nil, err
	}

	s.metrics.AssignmentCreated(created.Type, created.Algorithm)
	s.logger.Info("assignment created",
		slog.String("id", created.ID),
		slog.String("user_id", created.UserID),
		slog.String("provider_id", created.ProviderID),
		slog.String("type", string(created.Type)),
	)
	return created, nil
}

// ManualAssign is an operator's direct choice of provider. The distance is
// computed from the stored coordinates, or 0 if the user has no location.
// Inactive and suspended providers are refused with ErrInvalidState.
func (s *AssignmentService) ManualAssign(ctx context.Context, userID, providerID, notes, actor string) (*model.Assignment, error) {
	req := CreateRequest{
		UserID:     userID,
		ProviderID: providerID,
		Type:       model.AssignmentManual,
		Actor:      actor,
		Reason:     notes,
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	var created *model.Assignment
	err := s.runInTx(ctx, func(tx repository.AssignmentTx) error {
		a, err := s.create(ctx, tx, req, true, nil)
		created = a
		return err
	})
	if err != nil {
		s.fail("manual assign", err,
			slog.String("user_id", req.UserID),
			slog.String("provider_id", req.ProviderID),
		)
		return nil, err
	}

	s.metrics.AssignmentCreated(created.Type, created.Algorithm)
	s.logger.Info("manual assignment created",
		slog.String("id", created.ID),
		slog.String("user_id", created.UserID),
		slog.String("provider_id", created.ProviderID),
		slog.String("actor", actor),
	)
	return created, nil
}

// CancelAssignment ends an active assignment. Cancelling a terminal
// assignment fails with ErrInvalidState and changes nothing.
func (s *AssignmentService) CancelAssignment(ctx context.Context, id, reason, actor string) (*model.Assignment, error) {
	id, reason = strings.TrimSpace(id), strings.TrimSpace(reason)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "assignment ID is required")
	}
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return nil, apperror.ValidationFailed("reason",
			fmt.Sprintf("reason must be %d characters or less", MaxReasonLength))
	}

	var cancelled *model.Assignment
	err := s.runInTx(ctx, func(tx repository.AssignmentTx) error {
		a, err := activeAssignment(ctx, tx, id, "cancel")
		if err != nil {
			return err
		}
		cancelled = a
		return s.end(ctx, tx, a, model.AssignmentCancelled, model.ActionCancelled, reason, actor)
	})
	if err != nil {
		s.fail("cancel assignment", err, slog.String("id", id))
		return nil, err
	}

	s.metrics.AssignmentCancelled()
	s.logger.Info("assignment cancelled",
		slog.String("id", id),
		slog.String("provider_id", cancelled.ProviderID),
		slog.String("actor", actor),
	)
	return cancelled, nil
}

// CompleteAssignment ends an active assignment because service finished.
func (s *AssignmentService) CompleteAssignment(ctx context.Context, id, actor string) (*model.Assignment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "assignment ID is required")
	}

	var completed *model.Assignment
	err := s.runInTx(ctx, func(tx repository.AssignmentTx) error {
		a, err := activeAssignment(ctx, tx, id, "complete")
		if err != nil {
			return err
		}
		completed = a
		return s.end(ctx, tx, a, model.AssignmentCompleted, model.ActionCompleted, "", actor)
	})
	if err != nil {
		s.fail("complete assignment", err, slog.String("id", id))
		return nil, err
	}

	s.metrics.AssignmentCompleted()
	s.logger.Info("assignment completed",
		slog.String("id", id),
		slog.String("provider_id", completed.ProviderID),
	)
	return completed, nil
}

// StartService marks the user of an active assignment as in service. It
// writes no history entry: the assignment itself does not change state.
func (s *AssignmentService) StartService(ctx context.Context, id string) (*model.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "assignment ID is required")
	}

	var user *model.User
	err := s.runInTx(ctx, func(tx repository.AssignmentTx) error {
		a, err := activeAssignment(ctx, tx, id, "start service for")
		if err != nil {
			return err
		}
		u, err := tx.GetUser(ctx, a.UserID)
		if err != nil {
			return err
		}
		if u.Status != model.UserAssigned {
			return apperror.InvalidState("user", u.ID, fmt.Sprintf("cannot start service while %s", u.Status))
		}
		if err := tx.SetUserState(ctx, u.ID, model.UserInService, &a.ID); err != nil {
			return err
		}
		u.Status = model.UserInService
		user = u
		return nil
	})
	if err != nil {
		s.fail("start service", err, slog.String("id", id))
		return nil, err
	}

	s.logger.Info("service started", slog.String("assignment_id", id), slog.String("user_id", user.ID))
	return user, nil
}

// ReassignResult holds both halves of a reassignment. Previous is nil when
// the user had no active assignment.
type ReassignResult struct {
	Previous *model.Assignment `json:"previous,omitempty"`
	Current  *model.Assignment `json:"current"`
}

// Reassign moves a user to providerID in one transaction: the active
// assignment (if any) is cancelled with a "reassigned" history entry and a
// new manual assignment is created with ReassignedFrom pointing at it.
// If the new provider is full, nothing changes.
func (s *AssignmentService) Reassign(ctx context.Context, userID, providerID, reason, actor string) (*ReassignResult, error) {
	req := CreateRequest{
		UserID:     userID,
		ProviderID: providerID,
		Type:       model.AssignmentManual,
		Actor:      actor,
		Reason:     reason,
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	var result ReassignResult
	err := s.runInTx(ctx, func(tx repository.AssignmentTx) error {
		prev, err := tx.ActiveAssignmentForUser(ctx, req.UserID)
		if err != nil {
			return err
		}

		var from *string
		if prev != nil {
			if prev.ProviderID == req.ProviderID {
				return apperror.InvalidState("assignment", prev.ID,
					fmt.Sprintf("user is already assigned to provider %s", req.ProviderID))
			}
			if err := s.end(ctx, tx, prev, model.AssignmentCancelled, model.ActionReassigned, req.Reason, actor); err != nil {
				return err
			}
			from = &prev.ID
			result.Previous = prev
		}

		a, err := s.create(ctx, tx, req, true, from)
		result.Current = a
		return err
	})
	if err != nil {
		s.fail("reassign", err,
			slog.String("user_id", req.UserID),
			slog.String("provider_id", req.ProviderID),
		)
		return nil, err
	}

	if result.Previous != nil {
		s.metrics.AssignmentReassigned()
	}
	s.metrics.AssignmentCreated(result.Current.Type, result.Current.Algorithm)
	s.logger.Info("user reassigned",
		slog.String("user_id", req.UserID),
		slog.String("provider_id", req.ProviderID),
		slog.String("assignment_id", result.Current.ID),
	)
	return &result, nil
}

func (s *AssignmentService) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "assignment ID is required")
	}
	return s.store.GetAssignment(ctx, id)
}

// ListAssignments pages through assignments, newest first.
func (s *AssignmentService) ListAssignments(ctx context.Context, filter repository.AssignmentFilter, limit, offset int) ([]model.Assignment, error) {
	if filter.Status != "" {
		switch filter.Status {
		case model.AssignmentActive, model.AssignmentCancelled, model.AssignmentCompleted:
		default:
			return nil, apperror.ValidationFailed("status", fmt.Sprintf("unknown status %q", filter.Status))
		}
	}

	assignments, err := s.store.ListAssignments(ctx, filter, clampPage(limit, offset))
	if err != nil {
		s.logger.Error("failed to list assignments", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing assignments: %w", err)
	}
	return assignments, nil
}

// History returns the audit trail of one assignment, oldest first.
func (s *AssignmentService) History(ctx context.Context, id string) ([]model.AssignmentHistory, error) {
	if _, err := s.GetAssignment(ctx, id); err != nil {
		return nil, err
	}

	history, err := s.store.ListHistory(ctx, id)
	if err != nil {
		s.logger.Error("failed to list history", slog.String("id", id), slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing history: %w", err)
	}
	if history == nil {
		history = []model.AssignmentHistory{}
	}
	return history, nil
}

// create runs inside a transaction. With computeDistance the distance is
// derived from the stored user and provider instead of taken from req.
func (s *AssignmentService) create(ctx context.Context, tx repository.AssignmentTx, req CreateRequest, computeDistance bool, reassignedFrom *string) (*model.Assignment, error) {
	user, err := tx.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	active, err := tx.ActiveAssignmentForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperror.DuplicateActive(user.ID)
	}

	provider, err := tx.GetProvider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if provider.Status != model.ProviderActive {
		return nil, apperror.InvalidState("provider", provider.ID, fmt.Sprintf("is %s", provider.Status))
	}

	if err := tx.IncrementLoad(ctx, provider.ID); err != nil {
		return nil, err
	}

	distance := req.DistanceMeters
	if computeDistance {
		distance = distanceTo(user, provider)
	}

	now := s.now().UTC()
	a := &model.Assignment{
		ID:             xid.New().String(),
		UserID:         user.ID,
		ProviderID:     provider.ID,
		Type:           req.Type,
		AssignedBy:     req.Actor,
		Reason:         req.Reason,
		DistanceMeters: distance,
		MatchScore:     req.Score,
		Algorithm:      req.Algorithm,
		Status:         model.AssignmentActive,
		ReassignedFrom: reassignedFrom,
		AssignedAt:     now,
	}
	if err := tx.InsertAssignment(ctx, a); err != nil {
		return nil, err
	}
	if err := tx.SetUserState(ctx, user.ID, model.UserAssigned, &a.ID); err != nil {
		return nil, err
	}
	if err := tx.AppendHistory(ctx, &model.AssignmentHistory{
		ID:           xid.New().String(),
		AssignmentID: a.ID,
		Action:       model.ActionCreated,
		Reason:       req.Reason,
		Operator:     req.Actor,
		CreatedAt:    now,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// end moves an active assignment to a terminal status, frees the provider
// slot and returns the user to unassigned.
func (s *AssignmentService) end(ctx context.Context, tx repository.AssignmentTx, a *model.Assignment, status model.AssignmentStatus, action model.HistoryAction, reason, actor string) error {
	now := s.now().UTC()
	a.Status = status
	switch status {
	case model.AssignmentCancelled:
		a.CancelledAt = &now
	case model.AssignmentCompleted:
		a.CompletedAt = &now
	}

	if err := tx.UpdateAssignmentStatus(ctx, a); err != nil {
		return err
	}
	if err := tx.DecrementLoad(ctx, a.ProviderID); err != nil {
		return err
	}
	if err := tx.SetUserState(ctx, a.UserID, model.UserUnassigned, nil); err != nil {
		return err
	}
	return tx.AppendHistory(ctx, &model.AssignmentHistory{
		ID:           xid.New().String(),
		AssignmentID: a.ID,
		Action:       action,
		Reason:       reason,
		Operator:     actor,
		CreatedAt:    now,
	})
}

func activeAssignment(ctx context.Context, tx repository.AssignmentTx, id, verb string) (*model.Assignment, error) {
	a, err := tx.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, apperror.InvalidState("assignment", a.ID, fmt.Sprintf("cannot %s a %s assignment", verb, a.Status))
	}
	return a, nil
}

func (s *AssignmentService) runInTx(ctx context.Context, fn func(tx repository.AssignmentTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	return s.store.RunInTx(ctx, fn)
}

// fail logs a failed operation. Domain errors are expected outcomes and are
// logged at info; anything else is a store failure.
func (s *AssignmentService) fail(op string, err error, attrs ...any) {
	kind := apperror.Kind(err)
	if errors.Is(err, apperror.ErrCapacityExceeded) {
		s.metrics.CapacityRejected()
	}
	attrs = append(attrs, slog.String("kind", kind), slog.String("error", err.Error()))
	if kind == "Internal" {
		s.logger.Error("failed to "+op, attrs...)
		return
	}
	s.logger.Info(op+" rejected", attrs...)
}

// distanceTo is the user-to-service-center distance in meters, rounded to
// centimeters, or 0 when either coordinate is missing or invalid.
func distanceTo(user *model.User, p *model.Provider) float64 {
	if user.Location == nil {
		return 0
	}
	if user.Location.Validate("location") != nil || p.ServiceCenter.Validate("serviceCenter") != nil {
		return 0
	}
	return math.Round(geo.DistanceMeters(*user.Location, p.ServiceCenter)*100) / 100
}

func clampPage(limit, offset int) repository.ListOptions {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return repository.ListOptions{Limit: limit, Offset: offset}
}
