// Package jsonrepair normalizes the structured output of text-generation
// models. Models wrap JSON in code fences, chatty prefixes, single quotes
// and unbalanced braces; the cleaner applies a fixed pipeline of heuristic
// repairs before parsing so that one sloppy response does not fail a turn.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Repair identifies a cleaning step that changed the input.
type Repair string

const (
	RepairStripWrapper    Repair = "strip_wrapper"
	RepairNormalizeQuotes Repair = "normalize_quotes"
	RepairTrailingCommas  Repair = "trailing_commas"
	RepairBalanceBrackets Repair = "balance_brackets"
	RepairTruncateTail    Repair = "truncate_tail"
)

// ParseError reports a response that stayed unparseable after every repair
// step. Cleaned carries the post-repair text for debugging.
type ParseError struct {
	Cleaned string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse cleaned response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Boilerplate the models like to put in front of the actual payload.
var wrapperPrefixes = []string{
	"here is the json:",
	"here's the json:",
	"json:",
}

var (
	singleQuotedKeyRe   = regexp.MustCompile(`'([^']*)'(\s*:)`)
	singleQuotedValueRe = regexp.MustCompile(`(:\s*)'([^']*)'`)
	trailingCommaRe     = regexp.MustCompile(`,(\s*[}\]])`)
)

// Clean runs the repair pipeline in a fixed order. Every step is
// idempotent and skipped silently when it finds nothing to fix. The
// returned list names the steps that actually fired.
func Clean(raw string) (string, []Repair) {
	var repairs []Repair

	apply := func(step Repair, fn func(string) string, s string) string {
		out := fn(s)
		if out != s {
			repairs = append(repairs, step)
		}
		return out
	}

	s := strings.TrimSpace(raw)
	s = apply(RepairStripWrapper, stripWrappers, s)
	s = apply(RepairNormalizeQuotes, normalizeQuotes, s)
	s = apply(RepairTrailingCommas, removeTrailingCommas, s)
	s = apply(RepairBalanceBrackets, balanceBrackets, s)
	s = apply(RepairTruncateTail, truncateAfterRoot, s)
	return s, repairs
}

// CleanAndParse cleans raw and attempts a structured parse. On failure it
// returns a *ParseError carrying the cleaned text; it never panics and
// leaves the fallback decision to the caller.
func CleanAndParse(raw string) (map[string]any, []Repair, error) {
	cleaned, repairs := Clean(raw)
	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, repairs, &ParseError{Cleaned: cleaned, Err: err}
	}
	return obj, repairs, nil
}

// stripWrappers removes fenced code-block delimiters and known boilerplate
// prefixes ahead of the payload.
func stripWrappers(s string) string {
	out := strings.TrimSpace(s)

	for {
		lower := strings.ToLower(out)
		stripped := false
		for _, p := range wrapperPrefixes {
			if strings.HasPrefix(lower, p) {
				out = strings.TrimSpace(out[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}

	if strings.HasPrefix(out, "```") {
		out = out[3:]
		// A fence is often tagged with a language name on the same line.
		if nl := strings.IndexByte(out, '\n'); nl >= 0 && len(strings.TrimSpace(out[:nl])) <= 8 {
			out = out[nl+1:]
		}
	}
	if idx := strings.LastIndex(out, "```"); idx >= 0 && strings.TrimSpace(out[idx+3:]) == "" {
		out = out[:idx]
	}
	return strings.TrimSpace(out)
}

// normalizeQuotes converts single-quoted object keys and scalar values to
// double quotes. The scan is string-aware: content already inside a
// double-quoted string passes through untouched, honoring backslash
// escapes, so apostrophes in real narrative text are never rewritten.
func normalizeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	segStart := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		if escaped {
			escaped = false
			continue
		}
		switch s[i] {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			if inString {
				b.WriteString(s[segStart : i+1])
			} else {
				b.WriteString(normalizeQuoteSegment(s[segStart:i]))
				b.WriteByte('"')
			}
			segStart = i + 1
			inString = !inString
		}
	}
	if inString {
		b.WriteString(s[segStart:])
	} else {
		b.WriteString(normalizeQuoteSegment(s[segStart:]))
	}
	return b.String()
}

func normalizeQuoteSegment(seg string) string {
	out := singleQuotedKeyRe.ReplaceAllStringFunc(seg, func(m string) string {
		sub := singleQuotedKeyRe.FindStringSubmatch(m)
		return `"` + sub[1] + `"` + sub[2]
	})
	return singleQuotedValueRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := singleQuotedValueRe.FindStringSubmatch(m)
		return sub[1] + `"` + sub[2] + `"`
	})
}

func removeTrailingCommas(s string) string {
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

// balanceBrackets appends missing closing braces/brackets when opens
// outnumber closes. Braces inside quoted strings are ignored, honoring
// backslash escapes. Openers are never inserted: an under-opened payload
// is a hard parse failure, not something worth fabricating.
func balanceBrackets(s string) string {
	if s == "" {
		return s
	}

	counts := map[rune]int{'{': 0, '}': 0, '[': 0, ']': 0}
	inString := false
	escaped := false
	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		default:
			if !inString {
				if _, ok := counts[r]; ok {
					counts[r]++
				}
			}
		}
	}

	out := s
	if n := counts['['] - counts[']']; n > 0 {
		out += strings.Repeat("]", n)
	}
	if n := counts['{'] - counts['}']; n > 0 {
		out += strings.Repeat("}", n)
	}
	return out
}

// truncateAfterRoot drops any trailing content after the matching close of
// the outermost object, using a string-aware brace counter.
func truncateAfterRoot(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}

	depth := 0
	inString := false
	escaped := false
	for i, r := range s[start:] {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[:start+i+1]
				}
			}
		}
	}
	return s
}
