package matching

import (
	"fmt"
	"math"
	"strings"

	"github.com/sakif/care-assign/internal/apperror"
)

// Algorithm names a scoring strategy.
type Algorithm string

const (
	DistancePriority Algorithm = "distance_priority"
	LoadBalance      Algorithm = "load_balance"
	SpecialtyMatch   Algorithm = "specialty_match"
	Comprehensive    Algorithm = "comprehensive"
)

// Algorithms lists every supported strategy in a stable order.
var Algorithms = []Algorithm{DistancePriority, LoadBalance, SpecialtyMatch, Comprehensive}

// ParseAlgorithm accepts a strategy name case-insensitively.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Algorithms {
		if a == known {
			return a, nil
		}
	}
	return "", apperror.ValidationFailed("algorithm",
		fmt.Sprintf("unknown algorithm %q", s))
}

// Weights are the comprehensive-score factor weights.
type Weights struct {
	Distance  float64 `yaml:"distance"`
	Load      float64 `yaml:"load"`
	Specialty float64 `yaml:"specialty"`
	Schedule  float64 `yaml:"schedule"`
}

// Config is the single configuration surface for scoring. It is fixed for
// the lifetime of a Scorer; callers cannot override weights per request.
type Config struct {
	Weights                  Weights   `yaml:"weights"`
	DefaultMaxDistanceMeters float64   `yaml:"default_max_distance_meters"`
	DefaultAlgorithm         Algorithm `yaml:"default_algorithm"`
}

// DefaultConfig returns the stock 0.4/0.3/0.2/0.1 weighting and a 10 km
// default search radius.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Distance:  0.4,
			Load:      0.3,
			Specialty: 0.2,
			Schedule:  0.1,
		},
		DefaultMaxDistanceMeters: 10000,
		DefaultAlgorithm:         Comprehensive,
	}
}

// Validate checks that weights are usable and the defaults are sane.
func (c Config) Validate() error {
	w := c.Weights
	for name, v := range map[string]float64{
		"distance": w.Distance, "load": w.Load, "specialty": w.Specialty, "schedule": w.Schedule,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("matching: weight %s must be a non-negative number, got %v", name, v)
		}
	}
	if w.Distance+w.Load+w.Specialty+w.Schedule <= 0 {
		return fmt.Errorf("matching: weights must not all be zero")
	}
	if !(c.DefaultMaxDistanceMeters > 0) || math.IsInf(c.DefaultMaxDistanceMeters, 0) {
		return fmt.Errorf("matching: default max distance must be positive, got %v", c.DefaultMaxDistanceMeters)
	}
	if _, err := ParseAlgorithm(string(c.DefaultAlgorithm)); err != nil {
		return fmt.Errorf("matching: default algorithm: %w", err)
	}
	return nil
}

// Preferences are the per-batch knobs. The three booleans gate the matching
// terms of the comprehensive score.
type Preferences struct {
	MaxDistanceMeters float64 `json:"maxDistance"`
	ConsiderSpecialty bool    `json:"considerSpecialty"`
	ConsiderSchedule  bool    `json:"considerSchedule"`
	BalanceLoad       bool    `json:"balanceLoad"`
}

// DefaultPreferences enables every term and uses the configured radius.
func (c Config) DefaultPreferences() Preferences {
	return Preferences{
		MaxDistanceMeters: c.DefaultMaxDistanceMeters,
		ConsiderSpecialty: true,
		ConsiderSchedule:  true,
		BalanceLoad:       true,
	}
}

// Validate rejects structurally unusable preferences.
func (p Preferences) Validate() error {
	if math.IsNaN(p.MaxDistanceMeters) || math.IsInf(p.MaxDistanceMeters, 0) || p.MaxDistanceMeters <= 0 {
		return apperror.ValidationFailed("maxDistance", "maxDistance must be a positive number of meters")
	}
	return nil
}
