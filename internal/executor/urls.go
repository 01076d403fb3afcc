// internal/executor/urls.go
package executor

import (
	"regexp"
	"strings"
)

var (
	urlRegex        = regexp.MustCompile("(?i)https?://[^\\s<>\"{}|\\\\^\x60\\[\\]]+")
	bareDomainRegex = regexp.MustCompile(`(?i)^(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,24}(?::\d{1,5})?(?:/\S*)?$`)
)

// ExtractURL returns the first http(s) URL in s, trimmed of trailing punctuation.
func ExtractURL(s string) string {
	u := urlRegex.FindString(s)
	return strings.TrimRight(u, ".,;:!?)'")
}

// NormalizeURL accepts a full URL or a bare domain ("example.com/path"),
// adding https:// to the latter. Anything else yields "".
func NormalizeURL(s string) string {
	s = strings.TrimSpace(s)
	if lower := strings.ToLower(s); strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ExtractURL(s)
	}
	if bareDomainRegex.MatchString(s) {
		return "https://" + s
	}
	return ""
}

// resolveNavigationURL picks the URL to load: the action value, then the
// first URL in the target description, then the first URL in the task.
func resolveNavigationURL(value, target, task string) string {
	if u := NormalizeURL(value); u != "" {
		return u
	}
	if u := ExtractURL(value); u != "" {
		return u
	}
	if u := ExtractURL(target); u != "" {
		return u
	}
	if u := NormalizeURL(target); u != "" {
		return u
	}
	return ExtractURL(task)
}
