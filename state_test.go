package goagua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegisters() RegisterMap {
	return RegisterMap{
		"temp_air_get": {
			Key:          "temp_air_get",
			Offset:       0,
			Formula:      "#/10",
			FormatString: "{0}",
		},
		"status_get": {
			Key:          "status_get",
			Offset:       3,
			Formula:      "#",
			FormatString: "{0}",
		},
	}
}

func TestNewSnapshotShapeMismatch(t *testing.T) {
	_, err := newSnapshot(testRegisters(), []int{0, 1}, []float64{220})
	var opErr *OperationError
	assert.ErrorAs(t, err, &opErr)
}

func TestSnapshotDecode(t *testing.T) {
	state, err := newSnapshot(testRegisters(), []int{0, 3}, []float64{220, 4})
	require.NoError(t, err)

	v, err := state.decode("temp_air_get")
	require.NoError(t, err)
	assert.Equal(t, 22.0, v)

	v, err = state.decode("status_get")
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)
}

func TestSnapshotMissingOffset(t *testing.T) {
	// The buffer no longer carries offset 3. This should not happen when
	// map and values are refreshed together, but it must surface loudly
	// rather than decode a default.
	state, err := newSnapshot(testRegisters(), []int{0}, []float64{220})
	require.NoError(t, err)

	_, err = state.decode("status_get")
	var missing *MissingDataError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 3, missing.Offset)
}

func TestSnapshotUnknownRegister(t *testing.T) {
	state, err := newSnapshot(testRegisters(), []int{0}, []float64{220})
	require.NoError(t, err)

	_, err = state.decode("power_set")
	var confErr *ConfigurationError
	assert.ErrorAs(t, err, &confErr)
}
