// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrEmptyResponse is returned when the model produced no content at all.
var ErrEmptyResponse = errors.New("empty response from model")

// fencedBlockRegex captures the body of the first markdown code fence, with or without a json tag.
// \x60 is a backtick; Go raw strings cannot contain one.
var fencedBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(.*?)\\s*\x60\x60\x60")

// ExtractJSON isolates the JSON payload in a model response. It handles a markdown
// fence anywhere in the text, then falls back to the outermost object or array span.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", ErrEmptyResponse
	}

	if matches := fencedBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		if body := strings.TrimSpace(matches[1]); body != "" {
			response = body
		}
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response, nil
	}

	// Conversational text around the payload: prefer an object, then an array.
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		first := strings.Index(response, pair[0])
		last := strings.LastIndex(response, pair[1])
		if first != -1 && last > first {
			return response[first : last+1], nil
		}
	}
	return "", fmt.Errorf("no JSON object found in response: %s", truncateString(response, 200))
}

// ParseJSONResponse parses an LLM response string into T, tolerating markdown
// fences and surrounding prose.
func ParseJSONResponse[T any](response string) (*T, error) {
	payload, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(payload, 500))
	}
	return &result, nil
}

// truncateString truncates s to maxLen bytes, appending "..." when it cut anything.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
