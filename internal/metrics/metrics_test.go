package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/sakif/care-assign/internal/model"
)

func TestNop(t *testing.T) {
	var c Collector = NewNop()

	require.NotPanics(t, func() {
		c.AssignmentCreated(model.AssignmentAutomatic, "comprehensive")
		c.AssignmentCancelled()
		c.AssignmentCompleted()
		c.AssignmentReassigned()
		c.CapacityRejected()
		c.BatchCompleted(3, 1, time.Second)
	})
}

// counterValue finds the counter in families whose labels include want.
func counterValue(t *testing.T, families []*dto.MetricFamily, name string, want map[string]string) float64 {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, want)
	return 0
}

func TestPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg, "test")
	require.NoError(t, err)

	p.AssignmentCreated(model.AssignmentAutomatic, "comprehensive")
	p.AssignmentCreated(model.AssignmentAutomatic, "comprehensive")
	p.AssignmentCreated(model.AssignmentManual, "")
	p.AssignmentCancelled()
	p.CapacityRejected()
	p.BatchCompleted(4, 1, 20*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	require.Equal(t, 2.0, counterValue(t, families, "test_assignments_created_total",
		map[string]string{"type": "automatic", "algorithm": "comprehensive"}))
	require.Equal(t, 1.0, counterValue(t, families, "test_assignments_created_total",
		map[string]string{"type": "manual"}))
	require.Equal(t, 1.0, counterValue(t, families, "test_assignments_transitions_total",
		map[string]string{"action": "cancelled"}))
	require.Equal(t, 1.0, counterValue(t, families, "test_assignments_capacity_rejections_total", nil))
	require.Equal(t, 4.0, counterValue(t, families, "test_batch_users_total",
		map[string]string{"outcome": "succeeded"}))
}

func TestNewPrometheus_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg, "dup")
	require.NoError(t, err)

	_, err = NewPrometheus(reg, "dup")
	require.Error(t, err)
}
