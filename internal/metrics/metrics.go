// Package metrics records assignment outcomes.
//
// Services depend on the Collector interface. NewNop discards everything and
// is the default; NewPrometheus exports counters on /metrics.
package metrics

import (
	"time"

	"github.com/sakif/care-assign/internal/model"
)

// Collector receives one call per lifecycle event.
type Collector interface {
	AssignmentCreated(typ model.AssignmentType, algorithm string)
	AssignmentCancelled()
	AssignmentCompleted()
	AssignmentReassigned()
	// CapacityRejected counts transactions refused because the provider
	// filled up between selection and commit.
	CapacityRejected()
	BatchCompleted(succeeded, failed int, duration time.Duration)
}

// Nop implements Collector by discarding every event.
type Nop struct{}

var _ Collector = Nop{}

func NewNop() Nop { return Nop{} }

func (Nop) AssignmentCreated(model.AssignmentType, string) {}
func (Nop) AssignmentCancelled()                           {}
func (Nop) AssignmentCompleted()                           {}
func (Nop) AssignmentReassigned()                          {}
func (Nop) CapacityRejected()                              {}
func (Nop) BatchCompleted(int, int, time.Duration)         {}
