package turn

import "strings"

// TruncateToMaxWords caps text at maxWords whitespace-separated words. Text at
// or under the cap is returned unchanged; otherwise the first maxWords words
// are joined by single spaces and an ellipsis marker is appended.
func TruncateToMaxWords(text string, maxWords int) string {
	if maxWords <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
