package goagua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalFormula(t *testing.T) {
	tests := []struct {
		name        string
		expr        string
		value       float64
		expected    float64
		expectError bool
	}{
		{
			name:     "divide raw by ten",
			expr:     "#/10",
			value:    220,
			expected: 22,
		},
		{
			name:     "multiply by ten",
			expr:     "#*10",
			value:    22,
			expected: 220,
		},
		{
			name:     "identity",
			expr:     "#",
			value:    4,
			expected: 4,
		},
		{
			name:     "parentheses",
			expr:     "(#+5)/2",
			value:    15,
			expected: 10,
		},
		{
			name:     "multiplication binds tighter",
			expr:     "#-2*3",
			value:    10,
			expected: 4,
		},
		{
			name:     "unary minus",
			expr:     "-#+1",
			value:    2,
			expected: -1,
		},
		{
			name:     "whitespace tolerated",
			expr:     " # / 2 ",
			value:    10,
			expected: 5,
		},
		{
			name:     "repeated placeholder",
			expr:     "#*#",
			value:    3,
			expected: 9,
		},
		{
			name:     "decimal literal",
			expr:     "#*0.5",
			value:    30,
			expected: 15,
		},
		{
			name:        "division by zero",
			expr:        "#/(2-2)",
			value:       1,
			expectError: true,
		},
		{
			name:        "dangling operator",
			expr:        "2+*3",
			value:       1,
			expectError: true,
		},
		{
			name:        "identifiers rejected",
			expr:        "exec(#)",
			value:       1,
			expectError: true,
		},
		{
			name:        "missing closing parenthesis",
			expr:        "(#+1",
			value:       1,
			expectError: true,
		},
		{
			name:        "empty expression",
			expr:        "",
			value:       1,
			expectError: true,
		},
		{
			name:        "trailing garbage",
			expr:        "#+1;",
			value:       1,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evalFormula(tt.expr, tt.value)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.InDelta(t, tt.expected, result, 1e-9)
			}
		})
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name        string
		format      string
		value       float64
		expected    float64
		expectError bool
	}{
		{
			name:     "passthrough template",
			format:   "{0}",
			value:    22.456,
			expected: 22.456,
		},
		{
			name:     "empty template",
			format:   "",
			value:    7.25,
			expected: 7.25,
		},
		{
			name:     "one decimal",
			format:   "{0:.1f}",
			value:    22.46,
			expected: 22.5,
		},
		{
			name:     "integer rounding",
			format:   "{0:.0f}",
			value:    21.7,
			expected: 22,
		},
		{
			name:        "unsupported template",
			format:      "{1}",
			expectError: true,
		},
		{
			name:        "non numeric spec",
			format:      "{0:xx}",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := formatValue(tt.format, tt.value)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.InDelta(t, tt.expected, result, 1e-9)
			}
		})
	}
}

func TestDecodeValue(t *testing.T) {
	entry := &RegisterEntry{
		Key:          regAirTempGet,
		Offset:       0,
		Formula:      "#/10",
		FormatString: "{0}",
	}

	v, err := decodeValue(entry, 220)
	require.NoError(t, err)
	assert.Equal(t, 22.0, v)
}

func TestEncodeValue(t *testing.T) {
	entry := &RegisterEntry{
		Key:            regAirTempSet,
		Offset:         1,
		Formula:        "#/10",
		FormulaInverse: "#*10",
		FormatString:   "{0}",
	}

	wire, err := encodeValue(entry, 22.0)
	require.NoError(t, err)
	assert.Equal(t, 220, wire)
}

func TestDecodeValueBadFormula(t *testing.T) {
	entry := &RegisterEntry{
		Key:          "broken",
		Formula:      "import(#)",
		FormatString: "{0}",
	}

	_, err := decodeValue(entry, 1)
	var opErr *OperationError
	assert.ErrorAs(t, err, &opErr)
}

// Round-tripping decode(encode(v)) must hold inside the write bounds as
// long as the value is representable at the register's precision.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := []*RegisterEntry{
		{
			Key:            regAirTempSet,
			Formula:        "#/10",
			FormulaInverse: "#*10",
			FormatString:   "{0:.1f}",
			SetMin:         14,
			SetMax:         30,
		},
		{
			Key:            regPowerSet,
			Formula:        "#",
			FormulaInverse: "#",
			FormatString:   "{0:.0f}",
			SetMin:         1,
			SetMax:         5,
		},
	}

	for _, entry := range entries {
		for v := entry.SetMin; v <= entry.SetMax; v += 0.5 {
			wire, err := encodeValue(entry, v)
			require.NoError(t, err)

			back, err := decodeValue(entry, float64(wire))
			require.NoError(t, err)
			assert.InDelta(t, v, back, 0.5, "register %s value %v", entry.Key, v)
		}
	}
}
