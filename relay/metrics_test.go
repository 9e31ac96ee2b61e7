package relay

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caesar0301/relogger/metric"
)

func TestNewMetricsWithNilRegistryDisablesRecording(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	require.Nil(t, m)

	// All recorders are safe on the nil receiver.
	m.recordRelayed("flow", 10)
	m.recordSourceError("flow")
	m.recordSinkError("flow")
	m.taskStarted()
	m.taskEnded()
}

func TestMetricsCountPerFlow(t *testing.T) {
	reg := metric.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	m.recordRelayed("edge", 24)
	m.recordRelayed("edge", 8)
	m.recordSinkError("edge")
	m.taskStarted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsRelayed.WithLabelValues("edge")))
	assert.Equal(t, 32.0, testutil.ToFloat64(m.bytesRelayed.WithLabelValues("edge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkErrors.WithLabelValues("edge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeTasks))
}

func TestNewMetricsRejectsDoubleRegistration(t *testing.T) {
	reg := metric.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
