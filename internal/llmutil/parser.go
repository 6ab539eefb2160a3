// internal/llmutil/parser.go
package llmutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ParseJSONResponse parses a model response string into a target Go type.
// Models frequently wrap JSON in markdown fences or conversational text even
// when asked for strict JSON; both cases are handled before unmarshaling.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	jsonStringToParse := response

	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			jsonStringToParse = matches[1]
		}
	} else if (isObject || isArray) && (!strings.HasPrefix(response, "{") && !strings.HasPrefix(response, "[")) {
		// Find the structure embedded in surrounding prose.
		firstBracket := -1
		lastBracket := -1

		if isObject {
			fb := strings.Index(response, "{")
			lb := strings.LastIndex(response, "}")
			if fb != -1 && lb != -1 && lb > fb {
				firstBracket = fb
				lastBracket = lb + 1
			}
		}

		if (firstBracket == -1 || lastBracket == -1) && isArray {
			fb := strings.Index(response, "[")
			lb := strings.LastIndex(response, "]")
			if fb != -1 && lb != -1 && lb > fb {
				firstBracket = fb
				lastBracket = lb + 1
			}
		}

		if firstBracket != -1 && lastBracket != -1 {
			jsonStringToParse = response[firstBracket:lastBracket]
		}
	}

	var result T
	if err := json.Unmarshal([]byte(jsonStringToParse), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(jsonStringToParse, 500))
	}

	return &result, nil
}

// truncateString truncates a string to a maximum length for error messages.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
