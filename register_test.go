package goagua

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogFixture = `{
	"device_registers_map": {
		"registers_map": [
			{
				"id": 100,
				"registers": [
					{
						"reg_key": "temp_air_get",
						"reg_type": "temperature",
						"offset": 0,
						"formula": "#/10",
						"formula_inverse": "#*10",
						"format_string": "{0}",
						"set_min": 0,
						"set_max": 0,
						"mask": 65535
					},
					{
						"reg_key": "status_managed_get",
						"reg_type": "status",
						"offset": 7,
						"formula": "#",
						"formula_inverse": "#",
						"format_string": "{0}",
						"set_min": 0,
						"set_max": 1,
						"mask": 255,
						"enc_val": [
							{"lang": "ENG", "description": "ON", "value": 1},
							{"lang": "ENG", "description": "OFF", "value": "0"},
							{"lang": "ITA", "description": "ON", "value": 40}
						]
					}
				]
			},
			{
				"id": 200,
				"registers": [
					{
						"reg_key": "temp_air_get",
						"reg_type": "temperature",
						"offset": 5,
						"formula": "#/2",
						"formula_inverse": "#*2",
						"format_string": "{0}",
						"set_min": 0,
						"set_max": 0,
						"mask": 65535
					}
				]
			}
		]
	}
}`

func parseCatalog(t *testing.T) *registersMapsResponse {
	t.Helper()
	var catalog registersMapsResponse
	require.NoError(t, json.Unmarshal([]byte(catalogFixture), &catalog))
	return &catalog
}

func TestBuildRegisterMap(t *testing.T) {
	registers, err := buildRegisterMap(parseCatalog(t), 100)
	require.NoError(t, err)
	require.Len(t, registers, 2)

	temp := registers["temp_air_get"]
	require.NotNil(t, temp)
	assert.Equal(t, 0, temp.Offset)
	assert.Equal(t, "#/10", temp.Formula)
	assert.Equal(t, "#*10", temp.FormulaInverse)
	assert.Equal(t, "{0}", temp.FormatString)
	assert.Equal(t, 65535, temp.Mask)
	assert.Nil(t, temp.OnValue)
	assert.Nil(t, temp.OffValue)
}

func TestBuildRegisterMapSelectsMatchingGroup(t *testing.T) {
	registers, err := buildRegisterMap(parseCatalog(t), 200)
	require.NoError(t, err)
	require.Len(t, registers, 1)
	assert.Equal(t, 5, registers["temp_air_get"].Offset)
	assert.Equal(t, "#/2", registers["temp_air_get"].Formula)
}

func TestBuildRegisterMapOnOffEncodings(t *testing.T) {
	registers, err := buildRegisterMap(parseCatalog(t), 100)
	require.NoError(t, err)

	status := registers["status_managed_get"]
	require.NotNil(t, status)
	// Mixed number/string enumerated values both parse; the ITA entry is
	// ignored.
	require.NotNil(t, status.OnValue)
	require.NotNil(t, status.OffValue)
	assert.Equal(t, 1, *status.OnValue)
	assert.Equal(t, 0, *status.OffValue)
}

func TestBuildRegisterMapNotFound(t *testing.T) {
	_, err := buildRegisterMap(parseCatalog(t), 999)
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Contains(t, err.Error(), "registers map 999 not found")
}
