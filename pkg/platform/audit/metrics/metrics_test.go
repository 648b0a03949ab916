package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncLogged()
	m.IncSuppressed(ReasonWindowMatch)
	m.IncSuppressed(ReasonWindowMatch)
	m.ObserveDedup(10, 3, 1, 0.001)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logged))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Suppressed.WithLabelValues(ReasonWindowMatch)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.ReadInput))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReadCollapsed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MalformedSkipped))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_NilRegistererDoesNotPanicOnReuse(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil).IncLogged()
		New(nil).IncLogged()
	})
}

func TestSetLockCircuitState(t *testing.T) {
	m := New(nil)
	m.SetLockCircuitState(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockCircuitOpened))
	m.SetLockCircuitState(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LockCircuitOpened))
}
