// Package jsonx decodes model output that was asked to be JSON but is
// not guaranteed to arrive as only JSON. Decoding tries progressively
// more forgiving extractions, stopping at the first success:
//
//  1. strict decode of the whole text
//  2. strict decode of the first fenced code block's contents
//  3. strict decode of the first balanced {...} or [...] span
//
// The balanced-span scan counts brackets and tracks JSON string state,
// so nested braces and escaped quotes are handled exactly.
package jsonx

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Decode parses raw into T using the ordered fallback strategy.
// On failure it returns a *ParseError carrying the complete raw text.
func Decode[T any](raw string) (T, error) {
	var zero T

	out, firstErr := tryDecode[T](raw)
	if firstErr == nil {
		return out, nil
	}

	if fenced, ok := extractFence(raw); ok {
		if out, err := tryDecode[T](fenced); err == nil {
			return out, nil
		}
	}

	if span, ok := extractBalanced(raw); ok {
		if out, err := tryDecode[T](span); err == nil {
			return out, nil
		}
	}

	return zero, &ParseError{
		Raw:    raw,
		Target: typeName[T](),
		Cause:  firstErr,
	}
}

// DecodeValue parses raw into a generic JSON value using the same
// fallback strategy as Decode.
func DecodeValue(raw string) (any, error) {
	return Decode[any](raw)
}

// Extract returns the JSON candidate span inside raw without decoding
// it: the first fenced block if one exists, otherwise the first balanced
// bracket span. Returns false when neither is present.
func Extract(raw string) (string, bool) {
	if fenced, ok := extractFence(raw); ok {
		return fenced, true
	}
	return extractBalanced(raw)
}

func tryDecode[T any](s string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}

// extractFence returns the contents of the first ``` fenced block,
// with any info string ("json") on the opening line removed.
func extractFence(raw string) (string, bool) {
	const marker = "```"

	start := strings.Index(raw, marker)
	if start < 0 {
		return "", false
	}
	body := raw[start+len(marker):]

	end := strings.Index(body, marker)
	if end < 0 {
		return "", false
	}
	body = body[:end]

	// Drop the info string on the opening line unless the JSON itself
	// starts there.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		first := strings.TrimSpace(body[:nl])
		if first != "" && !strings.ContainsAny(first, "{[") {
			body = body[nl+1:]
		}
	}

	return strings.TrimSpace(body), true
}

// extractBalanced returns the first balanced top-level {...} or [...]
// span in raw.
func extractBalanced(raw string) (string, bool) {
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c != '{' && c != '[' {
			continue
		}
		if end, ok := scanBalanced(raw, i); ok {
			return raw[i : end+1], true
		}
	}
	return "", false
}

// scanBalanced walks raw from the opener at start and returns the index
// of the byte that closes it. String contents and escape sequences do
// not count toward bracket depth.
func scanBalanced(raw string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(raw); i++ {
		c := raw[i]

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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ParseError represents a failure to decode model output after all
// fallback extractions.
type ParseError struct {
	Raw    string // the complete raw text, kept for diagnostics
	Target string
	Cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse response as %s: %v", e.Target, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
