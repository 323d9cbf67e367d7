package manifest

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/dhannusch/pincer/testing/assert"
	"github.com/dhannusch/pincer/testing/require"
)

func int64p(v int64) *int64       { return &v }
func float64p(v float64) *float64 { return &v }
func boolp(v bool) *bool          { return &v }

func fixtureSchema() *InputSchema {
	return &InputSchema{
		Type:     "object",
		Required: []string{"channelId"},
		Properties: map[string]Property{
			"channelId":  {Type: TypeString, MinLength: int64p(1), MaxLength: int64p(128)},
			"maxResults": {Type: TypeInteger, Minimum: float64p(1), Maximum: float64p(50)},
			"order":      {Type: TypeString, Enum: []interface{}{"date", "viewCount"}},
			"strict":     {Type: TypeBoolean},
			"score":      {Type: TypeNumber, Minimum: float64p(0)},
		},
	}
}

func TestValidateInputAcceptsValidObject(t *testing.T) {
	violations := fixtureSchema().ValidateInput(map[string]interface{}{
		"channelId":  "UC_x5XG1OV2P6uZZ5FSM9Ttw",
		"maxResults": float64(10),
		"order":      "date",
		"strict":     true,
		"score":      0.5,
	})
	require.Equal(t, 0, len(violations), "unexpected violations: %v", violations)
}

func TestValidateInputViolations(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]interface{}
		want  string
	}{
		{
			name:  "missing required",
			input: map[string]interface{}{},
			want:  `missing required property "channelId"`,
		},
		{
			name:  "unknown key",
			input: map[string]interface{}{"channelId": "a", "surprise": 1.0},
			want:  `unknown property "surprise"`,
		},
		{
			name:  "string too short",
			input: map[string]interface{}{"channelId": ""},
			want:  `at least 1 characters`,
		},
		{
			name:  "wrong type",
			input: map[string]interface{}{"channelId": 42.0},
			want:  `must be a string`,
		},
		{
			name:  "non integer",
			input: map[string]interface{}{"channelId": "a", "maxResults": 10.5},
			want:  `must be an integer`,
		},
		{
			name:  "integer out of bounds",
			input: map[string]interface{}{"channelId": "a", "maxResults": float64(51)},
			want:  `must be <= 50`,
		},
		{
			name:  "non finite number",
			input: map[string]interface{}{"channelId": "a", "score": math.Inf(1)},
			want:  `must be a finite number`,
		},
		{
			name:  "non boolean",
			input: map[string]interface{}{"channelId": "a", "strict": "yes"},
			want:  `must be a boolean`,
		},
		{
			name:  "enum exclusion",
			input: map[string]interface{}{"channelId": "a", "order": "rating"},
			want:  `must be one of the enum values`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := fixtureSchema().ValidateInput(tt.input)
			require.NotEqual(t, 0, len(violations))
			found := false
			for _, v := range violations {
				if contains(v, tt.want) {
					found = true
				}
			}
			assert.Equal(t, true, found, "violations: %v", violations)
		})
	}
}

func TestValidateInputAdditionalProperties(t *testing.T) {
	schema := fixtureSchema()
	schema.AdditionalProperties = boolp(true)
	violations := schema.ValidateInput(map[string]interface{}{
		"channelId": "a",
		"surprise":  "tolerated",
	})
	assert.Equal(t, 0, len(violations), "unexpected violations: %v", violations)
}

func TestValidateInputNilSchemaAcceptsAnything(t *testing.T) {
	var schema *InputSchema
	assert.Equal(t, 0, len(schema.ValidateInput(map[string]interface{}{"anything": "goes"})))
}

func TestNumericEnumComparesByValue(t *testing.T) {
	var schema InputSchema
	raw := `{"type":"object","properties":{"level":{"type":"integer","enum":[1,2,3]}}}`
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		t.Fatal(err)
	}
	violations := schema.ValidateInput(map[string]interface{}{"level": float64(2)})
	assert.Equal(t, 0, len(violations), "unexpected violations: %v", violations)

	violations = schema.ValidateInput(map[string]interface{}{"level": float64(4)})
	require.Equal(t, 1, len(violations))
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
