package engine

import "strings"

// ExtractCode pulls the generated program out of an LM response: the
// content of the first fenced code block, with any language tag on the
// opening fence ignored. A response with no fence is treated as being the
// program itself.
func ExtractCode(response string) string {
	start := strings.Index(response, "```")
	if start < 0 {
		return strings.TrimSpace(response)
	}

	rest := response[start+3:]
	// Drop the language tag line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		return strings.TrimSpace(rest)
	}

	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
