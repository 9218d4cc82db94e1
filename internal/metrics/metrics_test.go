package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Upload("partial")
	m.BackendWrite("primary", true, 0.2)
	m.BackendWrite("secondary", false, 0.1)
	m.Retry("secondary", false)
	m.QueueDepth(2, 1)
	m.Published("FILE_UPLOADED")
	m.Dropped()
	m.Relay(true)
	m.Transition("lock", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadsTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendWritesTotal.WithLabelValues("secondary", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRetriesTotal.WithLabelValues("secondary", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SyncQueuePending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncQueueFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VaultTransitions.WithLabelValues("lock", "success")))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Upload("success")
		m.BackendWrite("primary", true, 1)
		m.Retry("primary", true)
		m.QueueDepth(0, 0)
		m.Published("x")
		m.Dropped()
		m.Relay(false)
		m.Transition("unlock", false)
	})
}
