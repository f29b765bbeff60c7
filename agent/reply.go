package main

import (
	"fmt"
	"log"
	"strings"
)

// Model replies are expected to contain either one fenced code block or one
// JSON object embedded in free text. These extractors tolerate surrounding
// commentary but fail cleanly when no matching structure exists, instead of
// trimming marker substrings off the ends of the reply.

// ExtractCodeBlock returns the contents of the first fenced code block in the
// reply, preferring a fence tagged with the given language. If no fence
// exists but the reply itself looks like bare code, the trimmed reply is
// returned as-is (models sometimes skip the fence entirely).
func ExtractCodeBlock(reply, lang string) (string, error) {
	start := -1
	if lang != "" {
		start = strings.Index(reply, "```"+lang)
		if start != -1 {
			start += len("```" + lang)
		}
	}
	if start == -1 {
		idx := strings.Index(reply, "```")
		if idx == -1 {
			trimmed := strings.TrimSpace(reply)
			if looksLikeCode(trimmed) {
				log.Printf("⚠️ [REPLY] No code fence found, but reply looks like bare code - using it directly")
				return trimmed, nil
			}
			return "", fmt.Errorf("no code block found in reply")
		}
		start = idx + 3
		// Skip a language tag on the opening fence, if any.
		if nl := strings.Index(reply[start:], "\n"); nl != -1 && nl < 40 && !strings.Contains(reply[start:start+nl], " ") {
			start += nl
		}
	}

	rest := reply[start:]
	end := strings.Index(rest, "```")
	if end == -1 {
		// Unterminated fence: everything after the opening marker is the code.
		code := strings.TrimSpace(rest)
		if code == "" {
			return "", fmt.Errorf("empty code block in reply")
		}
		log.Printf("⚠️ [REPLY] Code fence is unterminated, using everything after the opening marker")
		return code, nil
	}

	code := strings.TrimSpace(rest[:end])
	if code == "" {
		return "", fmt.Errorf("empty code block in reply")
	}
	return code, nil
}

func looksLikeCode(s string) bool {
	return strings.Contains(s, "import ") || strings.Contains(s, "def ") ||
		strings.Contains(s, "print(") || strings.Contains(s, "class ")
}

// ExtractJSONObject scans the reply for the first complete JSON object,
// matching braces by depth and honoring string literals and escapes, and
// returns it verbatim.
func ExtractJSONObject(reply string) (string, error) {
	start := strings.IndexByte(reply, '{')
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in reply")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(reply); i++ {
		c := reply[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return reply[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in reply")
}
