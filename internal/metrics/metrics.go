package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the assignment engine and the
// notification dispatcher. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	ItemsSubmitted        *prometheus.CounterVec
	DuplicateSubmissions  prometheus.Counter
	Assignments           *prometheus.CounterVec
	Transitions           *prometheus.CounterVec
	DomainErrors          *prometheus.CounterVec
	OperationDuration     *prometheus.HistogramVec
	NotificationsSent     *prometheus.CounterVec
	NotificationFailures  *prometheus.CounterVec
	DispatcherCursorEvent *prometheus.GaugeVec
}

// New registers every collector on a fresh registry, so several engines can
// live in one process (tests do this).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		ItemsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewflow_items_submitted_total",
			Help: "Items accepted for approval",
		}, []string{"module_type"}),
		DuplicateSubmissions: f.NewCounter(prometheus.CounterOpts{
			Name: "reviewflow_duplicate_submissions_total",
			Help: "Submissions rejected because a non-terminal item already exists",
		}),
		Assignments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewflow_assignments_total",
			Help: "Assignments written, by strategy",
		}, []string{"strategy"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewflow_status_transitions_total",
			Help: "Status transitions applied",
		}, []string{"from", "to"}),
		DomainErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewflow_domain_errors_total",
			Help: "Expected errors returned to callers, by kind",
		}, []string{"kind"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reviewflow_operation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewflow_notifications_delivered_total",
			Help: "Events delivered, by sink",
		}, []string{"sink"}),
		NotificationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewflow_notification_failures_total",
			Help: "Delivery attempts that exhausted their retries, by sink",
		}, []string{"sink"}),
		DispatcherCursorEvent: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reviewflow_dispatcher_cursor_event_id",
			Help: "Last event id delivered, by sink",
		}, []string{"sink"}),
	}
}

func (m *Metrics) IncrementSubmitted(moduleType string) {
	if m == nil {
		return
	}
	m.ItemsSubmitted.WithLabelValues(moduleType).Inc()
}

func (m *Metrics) IncrementDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateSubmissions.Inc()
}

func (m *Metrics) IncrementAssignment(strategy string) {
	if m == nil {
		return
	}
	m.Assignments.WithLabelValues(strategy).Inc()
}

func (m *Metrics) IncrementTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncrementDomainError(kind string) {
	if m == nil {
		return
	}
	m.DomainErrors.WithLabelValues(kind).Inc()
}

// ObserveOperation records the duration of an engine operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordDelivery(sink string, eventID int64) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(sink).Inc()
	m.DispatcherCursorEvent.WithLabelValues(sink).Set(float64(eventID))
}

func (m *Metrics) IncrementDeliveryFailure(sink string) {
	if m == nil {
		return
	}
	m.NotificationFailures.WithLabelValues(sink).Inc()
}
