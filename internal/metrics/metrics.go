// Package metrics exposes Prometheus counters for the task and submission
// lifecycle. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	tasksCreated          *prometheus.CounterVec
	assignmentTransitions *prometheus.CounterVec
	submissionsFinalized  *prometheus.CounterVec
	answersGraded         prometheus.Counter
	resourceVersions      *prometheus.CounterVec
}

// New creates the counters and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "training",
			Name:      "tasks_created_total",
			Help:      "Tasks created, by kind.",
		}, []string{"kind"}),
		assignmentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "training",
			Name:      "assignment_transitions_total",
			Help:      "Assignment status transitions, by target status.",
		}, []string{"to"}),
		submissionsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "training",
			Name:      "submissions_finalized_total",
			Help:      "Finalized submissions, by resulting status.",
		}, []string{"status"}),
		answersGraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "training",
			Name:      "answers_graded_total",
			Help:      "Subjective answers graded by a human.",
		}),
		resourceVersions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "training",
			Name:      "resource_versions_total",
			Help:      "Resource versions written, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.tasksCreated, m.assignmentTransitions, m.submissionsFinalized, m.answersGraded, m.resourceVersions)
	return m
}

func (m *Metrics) TaskCreated(kind string) {
	if m != nil {
		m.tasksCreated.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) AssignmentTransition(to string) {
	if m != nil {
		m.assignmentTransitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) SubmissionFinalized(status string) {
	if m != nil {
		m.submissionsFinalized.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) AnswerGraded() {
	if m != nil {
		m.answersGraded.Inc()
	}
}

func (m *Metrics) ResourceVersion(kind string) {
	if m != nil {
		m.resourceVersions.WithLabelValues(kind).Inc()
	}
}
