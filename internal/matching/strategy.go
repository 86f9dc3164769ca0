package matching

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/sakif/care-assign/internal/apperror"
	"github.com/sakif/care-assign/internal/model"
)

// Factors are the four per-pair sub-scores, each in [0, 100].
type Factors struct {
	Distance  float64
	Load      float64
	Specialty float64
	Schedule  float64
}

// Strategy turns factors into a final score in [0, 100].
type Strategy func(f Factors, prefs Preferences, w Weights) float64

var strategies = map[Algorithm]Strategy{
	DistancePriority: func(f Factors, _ Preferences, _ Weights) float64 { return f.Distance },
	LoadBalance:      func(f Factors, _ Preferences, _ Weights) float64 { return f.Load },
	SpecialtyMatch:   func(f Factors, _ Preferences, _ Weights) float64 { return f.Specialty },
	Comprehensive:    comprehensive,
}

// comprehensive is the weighted sum of all factors. A factor switched off by
// prefs contributes nothing and its weight is dropped from the denominator,
// so the result stays within [0, 100].
func comprehensive(f Factors, prefs Preferences, w Weights) float64 {
	total := w.Distance * f.Distance
	weight := w.Distance

	if prefs.BalanceLoad {
		total += w.Load * f.Load
		weight += w.Load
	}
	if prefs.ConsiderSpecialty {
		total += w.Specialty * f.Specialty
		weight += w.Specialty
	}
	if prefs.ConsiderSchedule {
		total += w.Schedule * f.Schedule
		weight += w.Schedule
	}

	if weight == 0 {
		return 0
	}
	return total / weight
}

// DistanceScore is 100 x (1 - distance / radius), clamped to [0, 100].
func DistanceScore(c Candidate) float64 {
	if c.RadiusMeters <= 0 {
		return 0
	}
	return clamp(100 * (1 - c.DistanceMeters/c.RadiusMeters))
}

// LoadScore is 100 x (1 - current / max): emptier providers score higher.
func LoadScore(p *model.Provider) float64 {
	if p.MaxUsers <= 0 {
		return 0
	}
	return clamp(100 * (1 - float64(p.CurrentUsers)/float64(p.MaxUsers)))
}

// SpecialtyScore is the share of the user's required specialties the
// provider covers. A user with no requirements scores 0.
func SpecialtyScore(user *model.User, p *model.Provider) float64 {
	required := make(map[string]struct{}, len(user.Specialties))
	for _, s := range user.Specialties {
		required[s] = struct{}{}
	}

	matched := 0
	seen := make(map[string]struct{}, len(p.Specialties))
	for _, s := range p.Specialties {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := required[s]; ok {
			matched++
		}
	}

	return clamp(100 * float64(matched) / math.Max(1, float64(len(required))))
}

// ScheduleScore is 100 when the provider works on day, else 0.
func ScheduleScore(p *model.Provider, day time.Weekday) float64 {
	if p.WorksOn(day) {
		return 100
	}
	return 0
}

// Match is a scored candidate.
type Match struct {
	Provider       *model.Provider `json:"provider"`
	DistanceMeters float64         `json:"distance"`
	Score          float64         `json:"score"`
	Factors        Factors         `json:"-"`
}

// Scorer applies a Config to (user, candidate) pairs.
type Scorer struct {
	cfg Config
	now func() time.Time
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithClock overrides the clock used to pick "today" for schedule scoring.
func WithClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) {
		s.now = now
	}
}

// NewScorer builds a Scorer around a validated Config.
func NewScorer(cfg Config, opts ...ScorerOption) *Scorer {
	s := &Scorer{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Factors computes the four sub-scores for one pair.
func (s *Scorer) Factors(user *model.User, c Candidate) Factors {
	return Factors{
		Distance:  DistanceScore(c),
		Load:      LoadScore(c.Provider),
		Specialty: SpecialtyScore(user, c.Provider),
		Schedule:  ScheduleScore(c.Provider, s.now().Weekday()),
	}
}

// Score returns the score of one eligible pair under alg, rounded to two
// decimals.
func (s *Scorer) Score(alg Algorithm, user *model.User, c Candidate, prefs Preferences) (float64, error) {
	strategy, ok := strategies[alg]
	if !ok {
		return 0, apperror.ValidationFailed("algorithm", fmt.Sprintf("unknown algorithm %q", alg))
	}
	return round2(clamp(strategy(s.Factors(user, c), prefs, s.cfg.Weights))), nil
}

// Rank scores every candidate and orders them best first. Only exactly equal
// scores fall back to ascending provider ID, which keeps the ranking total
// and repeatable. Match.Score is the rounded value.
func (s *Scorer) Rank(alg Algorithm, user *model.User, candidates []Candidate, prefs Preferences) ([]Match, error) {
	strategy, ok := strategies[alg]
	if !ok {
		return nil, apperror.ValidationFailed("algorithm", fmt.Sprintf("unknown algorithm %q", alg))
	}

	// Sort on the unrounded score. Only the returned Score is rounded.
	type scored struct {
		match Match
		raw   float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		f := s.Factors(user, c)
		raw := clamp(strategy(f, prefs, s.cfg.Weights))
		ranked = append(ranked, scored{
			match: Match{
				Provider:       c.Provider,
				DistanceMeters: c.DistanceMeters,
				Score:          round2(raw),
				Factors:        f,
			},
			raw: raw,
		})
	}

	slices.SortFunc(ranked, func(a, b scored) int {
		if c := cmp.Compare(b.raw, a.raw); c != 0 {
			return c
		}
		return cmp.Compare(a.match.Provider.ID, b.match.Provider.ID)
	})

	matches := make([]Match, len(ranked))
	for i, r := range ranked {
		matches[i] = r.match
	}
	return matches, nil
}

// Best returns the top-ranked candidate, or NoEligibleProvider when there
// are none.
func (s *Scorer) Best(alg Algorithm, user *model.User, candidates []Candidate, prefs Preferences) (Match, error) {
	matches, err := s.Rank(alg, user, candidates, prefs)
	if err != nil {
		return Match{}, err
	}
	if len(matches) == 0 {
		return Match{}, apperror.NoEligibleProvider(user.ID)
	}
	return matches[0], nil
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
