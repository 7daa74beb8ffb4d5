package llm

import (
	"regexp"
	"strings"
)

// Models regularly wrap JSON in markdown fences, prepend prose, emit trailing
// commas, or get truncated mid-object. ExtractJSON and RepairJSON recover a
// parseable document from that output; callers fall back to a non-LLM path
// when recovery fails too.

// ExtractJSON returns the first JSON object or array found in text, stripped
// of markdown fences and surrounding prose. If no balanced document is found,
// the cleaned text is returned for the caller's parser to reject.
func ExtractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return text
	}

	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escape {
			escape = false
			continue
		}
		switch {
		case ch == '\\':
			escape = true
		case ch == '"':
			inString = !inString
		case !inString && ch == open:
			depth++
		case !inString && ch == close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	// Unbalanced: return from start so RepairJSON can work on it.
	return text[start:]
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// hasUnterminatedString reports whether text ends inside a string literal.
func hasUnterminatedString(text string) bool {
	inString := false
	escape := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if escape {
			escape = false
			continue
		}
		switch ch {
		case '\\':
			escape = true
		case '"':
			inString = !inString
		}
	}
	return inString
}

// RepairJSON attempts to make truncated or sloppy JSON parseable:
// trailing commas are stripped, a document cut off mid-object is truncated to
// its last complete element, and unclosed brackets are closed.
func RepairJSON(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}

	text = trailingCommaRe.ReplaceAllString(text, "$1")

	// Truncate arrays to the last complete element.
	if strings.HasPrefix(text, "[") && !strings.HasSuffix(text, "]") {
		if last := strings.LastIndex(text, "},"); last != -1 {
			text = text[:last+1]
		} else if last := strings.LastIndex(text, "}"); last != -1 {
			text = text[:last+1]
		} else if hasUnterminatedString(text) {
			if last := strings.LastIndex(text, `",`); last != -1 {
				text = text[:last+1]
			}
		}
	}

	// Close whatever is still open, outermost last.
	var stack []byte
	inString := false
	escape := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if escape {
			escape = false
			continue
		}
		switch {
		case ch == '\\':
			escape = true
		case ch == '"':
			inString = !inString
		case !inString && (ch == '{' || ch == '['):
			stack = append(stack, ch)
		case !inString && (ch == '}' || ch == ']'):
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		text += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			text += "}"
		} else {
			text += "]"
		}
	}
	return text
}
