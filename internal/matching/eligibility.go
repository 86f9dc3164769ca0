// Package matching decides which providers may serve a user and how well.
//
// The flow is always filter, then score, then rank:
//
//	candidates := matching.EligibleProviders(user, providers, prefs.MaxDistanceMeters)
//	matches, err := scorer.Rank(algorithm, user, candidates, prefs)
//	best := matches[0]
//
// Everything here is pure: no I/O, no shared state, and identical inputs give
// identical rankings.
//
// ELIGIBILITY:
// A provider is a candidate only if all three hold:
//
//	status == active
//	current_users < max_users
//	distance(user, service center) <= min(service radius, maxDistance)
//
// A user without a location gets no candidates at all. Matching nobody is
// better than matching everybody.
//
// SCORING:
// Every strategy maps a candidate to [0, 100]:
//
//	distance_priority  100 x (1 - distance / radius)
//	load_balance       100 x (1 - current / max)
//	specialty_match    100 x (covered specialties / required specialties)
//	comprehensive      weighted sum of the three above plus schedule availability
//
// The comprehensive weights live in Config (default 0.4 / 0.3 / 0.2 / 0.1) and
// are fixed for the lifetime of a Scorer. Per-request Preferences can only
// switch terms off; the remaining weights are renormalised.
//
// TIE-BREAK:
// Candidates are ordered by unrounded score, highest first. Only exactly equal
// scores fall back to the lower provider ID, so the same snapshot always
// produces the same winner.
package matching

import (
	"math"

	"github.com/sakif/care-assign/internal/geo"
	"github.com/sakif/care-assign/internal/model"
)

// Candidate is a provider that passed the eligibility filter, together with
// the distance that qualified it.
type Candidate struct {
	Provider       *model.Provider
	DistanceMeters float64
	// RadiusMeters is min(provider service radius, requested max distance).
	RadiusMeters float64
}

// EligibleProviders returns the providers that are active, have spare
// capacity and whose service center lies within
// min(service radius, maxDistanceMeters) of the user.
//
// A user without a location gets no candidates. Providers with an
// out-of-range service center are skipped. The order of the result is not
// meaningful.
func EligibleProviders(user *model.User, providers []model.Provider, maxDistanceMeters float64) []Candidate {
	if user == nil || user.Location == nil {
		return nil
	}
	if user.Location.Validate("location") != nil {
		return nil
	}

	out := make([]Candidate, 0, len(providers))
	for i := range providers {
		p := &providers[i]
		if p.Status != model.ProviderActive || !p.HasCapacity() {
			continue
		}
		if p.ServiceCenter.Validate("serviceCenter") != nil {
			continue
		}

		radius := math.Min(p.ServiceRadiusMeters, maxDistanceMeters)
		d := geo.DistanceMeters(*user.Location, p.ServiceCenter)
		if d > radius {
			continue
		}

		out = append(out, Candidate{
			Provider:       p,
			DistanceMeters: d,
			RadiusMeters:   radius,
		})
	}
	return out
}
