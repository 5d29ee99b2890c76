package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementSubmitted("document")
		m.IncrementDuplicate()
		m.IncrementAssignment("manual")
		m.IncrementTransition("pending", "assigned")
		m.IncrementDomainError("stale_state")
		m.ObserveOperation("submit", time.Now())
		m.RecordDelivery("log", 3)
		m.IncrementDeliveryFailure("log")
	})
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a := New()
	b := New()
	a.IncrementSubmitted("document")
	a.IncrementSubmitted("document")
	b.IncrementSubmitted("document")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.ItemsSubmitted.WithLabelValues("document")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.ItemsSubmitted.WithLabelValues("document")))
}

func TestRecordDeliveryTracksCursor(t *testing.T) {
	m := New()
	m.RecordDelivery("webhook:audit", 7)
	m.RecordDelivery("webhook:audit", 9)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("webhook:audit")))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.DispatcherCursorEvent.WithLabelValues("webhook:audit")))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
