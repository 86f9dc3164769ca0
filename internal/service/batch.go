package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sakif/care-assign/internal/apperror"
	"github.com/sakif/care-assign/internal/matching"
	"github.com/sakif/care-assign/internal/metrics"
	"github.com/sakif/care-assign/internal/model"
	"github.com/sakif/care-assign/internal/repository"
)

// DefaultMaxBatchSize caps BatchRequest.UserIDs when no limit is configured.
// BATCH PROCESSING ORDER:
// Users are processed one at a time, in the order the caller gave. Before each
// user the provider snapshot is reloaded, so a slot taken by user 1 is already
// gone when user 2 is scored:
//
//	for each userID:
//	    load user → ListActiveProviders → EligibleProviders → Rank → CreateAssignment
//
// There is no parallelism inside a batch. Two concurrent batches are still
// safe: CreateAssignment's conditional increment refuses the loser with
// ErrCapacityExceeded, which is recorded as that user's failure.

// DefaultMaxBatchSize bounds a single request when the config sets nothing.
const DefaultMaxBatchSize = 500

// BatchRequest is one auto-assignment run. An empty Algorithm and a nil
// Preferences fall back to the scorer's configured defaults.
type BatchRequest struct {
	UserIDs     []string
	Algorithm   string
	Preferences *matching.Preferences
	Actor       string
}

// BatchFailure records why one user was not assigned. Error is the short
// error kind (e.g. "NoEligibleProvider"); Reason is human-readable.
type BatchFailure struct {
	UserID string `json:"userId"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type BatchStatistics struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// AutomaticRate is the percentage of requested users that were assigned.
	AutomaticRate         float64 `json:"automaticRate"`
	AverageScore          float64 `json:"averageScore"`
	AverageDistanceMeters float64 `json:"averageDistance"`
	Algorithm             string  `json:"algorithm"`
	DurationMillis        int64   `json:"durationMs"`
}

type BatchResult struct {
	Assignments []model.Assignment `json:"assignments"`
	Failed      []BatchFailure     `json:"failed"`
	Statistics  BatchStatistics    `json:"statistics"`
}

// BatchService assigns many users in one call.
//
// Users are processed sequentially in the order given. Each user gets a fresh
// provider snapshot, so capacity taken by earlier users in the batch is
// visible to later ones. A per-user failure is recorded and the batch moves
// on; only a malformed request fails the whole call.
type BatchService struct {
	users        repository.UserRepository
	providers    repository.ProviderRepository
	assignments  *AssignmentService
	scorer       *matching.Scorer
	metrics      metrics.Collector
	logger       *slog.Logger
	maxBatchSize int
}

// BatchOption configures a BatchService.
type BatchOption func(*BatchService)

func WithMaxBatchSize(n int) BatchOption {
	return func(s *BatchService) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

func WithBatchMetrics(c metrics.Collector) BatchOption {
	return func(s *BatchService) {
		if c != nil {
			s.metrics = c
		}
	}
}

func NewBatchService(
	users repository.UserRepository,
	providers repository.ProviderRepository,
	assignments *AssignmentService,
	scorer *matching.Scorer,
	logger *slog.Logger,
	opts ...BatchOption,
) *BatchService {
	s := &BatchService{
		users:        users,
		providers:    providers,
		assignments:  assignments,
		scorer:       scorer,
		metrics:      metrics.NewNop(),
		logger:       logger,
		maxBatchSize: DefaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultPreferences are the preferences a request gets when it sends none.
func (s *BatchService) DefaultPreferences() matching.Preferences {
	return s.scorer.Config().DefaultPreferences()
}

// BatchAssign runs req and reports every outcome.
func (s *BatchService) BatchAssign(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	alg, prefs, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &BatchResult{
		Assignments: make([]model.Assignment, 0, len(req.UserIDs)),
		Failed:      []BatchFailure{},
	}

	for _, userID := range req.UserIDs {
		a, err := s.assignOne(ctx, strings.TrimSpace(userID), alg, prefs, req.Actor)
		if err != nil {
			result.Failed = append(result.Failed, BatchFailure{
				UserID: userID,
				Error:  apperror.Kind(err),
				Reason: reason(err),
			})
			continue
		}
		result.Assignments = append(result.Assignments, *a)
	}

	elapsed := time.Since(start)
	result.Statistics = summarize(result, alg, len(req.UserIDs), elapsed)
	s.metrics.BatchCompleted(result.Statistics.Succeeded, result.Statistics.Failed, elapsed)

	s.logger.Info("batch assignment finished",
		slog.String("algorithm", string(alg)),
		slog.Int("total", result.Statistics.Total),
		slog.Int("succeeded", result.Statistics.Succeeded),
		slog.Int("failed", result.Statistics.Failed),
		slog.Duration("duration", elapsed),
	)
	return result, nil
}

// resolve applies defaults and rejects structurally unusable requests.
func (s *BatchService) resolve(req BatchRequest) (matching.Algorithm, matching.Preferences, error) {
	cfg := s.scorer.Config()

	if len(req.UserIDs) == 0 {
		return "", matching.Preferences{}, apperror.ValidationFailed("userIds", "at least one user ID is required")
	}
	if len(req.UserIDs) > s.maxBatchSize {
		return "", matching.Preferences{}, apperror.ValidationFailed("userIds",
			fmt.Sprintf("a batch may contain at most %d users, got %d", s.maxBatchSize, len(req.UserIDs)))
	}

	alg := cfg.DefaultAlgorithm
	if strings.TrimSpace(req.Algorithm) != "" {
		parsed, err := matching.ParseAlgorithm(req.Algorithm)
		if err != nil {
			return "", matching.Preferences{}, err
		}
		alg = parsed
	}

	prefs := cfg.DefaultPreferences()
	if req.Preferences != nil {
		prefs = *req.Preferences
	}
	if err := prefs.Validate(); err != nil {
		return "", matching.Preferences{}, err
	}
	return alg, prefs, nil
}

// assignOne is filter, rank, create for a single user.
func (s *BatchService) assignOne(ctx context.Context, userID string, alg matching.Algorithm, prefs matching.Preferences, actor string) (*model.Assignment, error) {
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "user ID is required")
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Status != model.UserUnassigned {
		return nil, apperror.DuplicateActive(user.ID)
	}
	if user.Location == nil {
		return nil, apperror.NoEligibleProvider(user.ID)
	}
	if err := user.Location.Validate("location"); err != nil {
		return nil, err
	}

	providers, err := s.providers.ListActiveProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading providers: %w", err)
	}

	candidates := matching.EligibleProviders(user, providers, prefs.MaxDistanceMeters)
	best, err := s.scorer.Best(alg, user, candidates, prefs)
	if err != nil {
		return nil, err
	}

	score := best.Score
	return s.assignments.CreateAssignment(ctx, CreateRequest{
		UserID:         user.ID,
		ProviderID:     best.Provider.ID,
		Type:           model.AssignmentAutomatic,
		Actor:          actor,
		Reason:         fmt.Sprintf("automatic assignment (%s)", alg),
		DistanceMeters: math.Round(best.DistanceMeters*100) / 100,
		Score:          &score,
		Algorithm:      string(alg),
	})
}

func summarize(r *BatchResult, alg matching.Algorithm, total int, elapsed time.Duration) BatchStatistics {
	st := BatchStatistics{
		Total:          total,
		Succeeded:      len(r.Assignments),
		Failed:         len(r.Failed),
		Algorithm:      string(alg),
		DurationMillis: elapsed.Milliseconds(),
	}
	if total > 0 {
		st.AutomaticRate = round2(float64(st.Succeeded) / float64(total) * 100)
	}
	if st.Succeeded > 0 {
		var score, dist float64
		for _, a := range r.Assignments {
			if a.MatchScore != nil {
				score += *a.MatchScore
			}
			dist += a.DistanceMeters
		}
		st.AverageScore = round2(score / float64(st.Succeeded))
		st.AverageDistanceMeters = round2(dist / float64(st.Succeeded))
	}
	return st
}

// reason is the operator-facing text of err. Internal errors are not echoed.
func reason(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
