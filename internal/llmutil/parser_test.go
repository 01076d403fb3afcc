package llmutil

import (
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decision struct {
	ActionType string  `json:"action_type"`
	Confidence float64 `json:"confidence"`
}

func TestParseJSONResponse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected decision
	}{
		{
			name:     "raw object",
			input:    `{"action_type":"click","confidence":0.9}`,
			expected: decision{ActionType: "click", Confidence: 0.9},
		},
		{
			name:     "json fence",
			input:    "```json\n{\"action_type\":\"navigate\",\"confidence\":1}\n```",
			expected: decision{ActionType: "navigate", Confidence: 1},
		},
		{
			name:     "bare fence",
			input:    "```\n{\"action_type\":\"wait\"}\n```",
			expected: decision{ActionType: "wait"},
		},
		{
			name:     "fence after prose",
			input:    "Here is the action:\n```json\n{\"action_type\":\"hover\"}\n```\nGood luck.",
			expected: decision{ActionType: "hover"},
		},
		{
			name:     "object inside prose",
			input:    `Sure. {"action_type":"scroll","confidence":0.5} Let me know.`,
			expected: decision{ActionType: "scroll", Confidence: 0.5},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseJSONResponse[decision](tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, *got)
		})
	}
}

func TestParseJSONResponse_Array(t *testing.T) {
	got, err := ParseJSONResponse[[]string]("The list: [\"a\", \"b\"]")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, *got)
}

func TestParseJSONResponse_Errors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := ParseJSONResponse[decision]("   \n")
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("no json", func(t *testing.T) {
		_, err := ParseJSONResponse[decision]("I cannot help with that.")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no JSON object found")
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseJSONResponse[decision](`{"action_type": "click",}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal LLM JSON response")
	})
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
	assert.Equal(t, "", truncateString("abc", 0))
}

// FuzzExtractJSON checks that arbitrary model output never panics the extractor and
// that any extracted payload is bracketed.
func FuzzExtractJSON(f *testing.F) {
	f.Add([]byte("```json\n{\"a\":1}\n```"))
	f.Add([]byte("prefix {\"a\": [1,2]} suffix"))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		prose, err := consumer.GetString()
		if err != nil {
			return
		}
		payload, err := ExtractJSON(prose)
		if err != nil {
			return
		}
		if !strings.HasPrefix(payload, "{") && !strings.HasPrefix(payload, "[") {
			t.Fatalf("extracted payload is not bracketed: %q", payload)
		}
	})
}
