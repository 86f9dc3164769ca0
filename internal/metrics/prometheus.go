package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sakif/care-assign/internal/model"
)

// Prometheus implements Collector with counters and a batch-duration histogram.
type Prometheus struct {
	created       *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	capacity      prometheus.Counter
	batchUsers    *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus registers the collectors on reg (prometheus.DefaultRegisterer
// if nil) under namespace ("care_assign" if empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "care_assign"
	}

	p := &Prometheus{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignments",
			Name:      "created_total",
			Help:      "Assignments created, by type and algorithm.",
		}, []string{"type", "algorithm"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignments",
			Name:      "transitions_total",
			Help:      "Assignments leaving the active state, by action.",
		}, []string{"action"}),
		capacity: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignments",
			Name:      "capacity_rejections_total",
			Help:      "Assignment transactions refused because the provider was full.",
		}),
		batchUsers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "users_total",
			Help:      "Users processed by batch assignment, by outcome.",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Wall time of batch assignment runs.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}),
	}

	for _, c := range []prometheus.Collector{p.created, p.transitions, p.capacity, p.batchUsers, p.batchDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) AssignmentCreated(typ model.AssignmentType, algorithm string) {
	p.created.WithLabelValues(string(typ), algorithm).Inc()
}

func (p *Prometheus) AssignmentCancelled() {
	p.transitions.WithLabelValues(string(model.ActionCancelled)).Inc()
}

func (p *Prometheus) AssignmentCompleted() {
	p.transitions.WithLabelValues(string(model.ActionCompleted)).Inc()
}

func (p *Prometheus) AssignmentReassigned() {
	p.transitions.WithLabelValues(string(model.ActionReassigned)).Inc()
}

func (p *Prometheus) CapacityRejected() {
	p.capacity.Inc()
}

func (p *Prometheus) BatchCompleted(succeeded, failed int, duration time.Duration) {
	p.batchUsers.WithLabelValues("succeeded").Add(float64(succeeded))
	p.batchUsers.WithLabelValues("failed").Add(float64(failed))
	p.batchDuration.Observe(duration.Seconds())
}
