package tools

import (
	"context"
	"strings"
	"unicode"

	"github.com/plumehq/plume/llm"
)

// KeywordInput defines the input for the KeywordCoverage tool.
type KeywordInput struct {
	Text     string   `json:"text" jsonschema:"required,description=The resume or section text to scan"`
	Keywords []string `json:"keywords" jsonschema:"required,description=Keywords or phrases to look for, e.g. from a job posting"`
}

// KeywordOutput defines the output of the KeywordCoverage tool.
type KeywordOutput struct {
	Present  []string `json:"present"`
	Missing  []string `json:"missing"`
	Coverage float64  `json:"coverage"`
}

// KeywordCoverageTool returns the KeywordCoverage tool.
func KeywordCoverageTool() (llm.Tool, error) {
	return llm.NewTool(
		"keyword_coverage",
		"Check which of a set of keywords appear in a text, matching whole words case-insensitively. Use it to verify a resume against a job posting instead of scanning by eye.",
		keywordCoverage,
	)
}

// MustKeywordCoverage returns the KeywordCoverage tool, panicking on error.
func MustKeywordCoverage() llm.Tool {
	tool, err := KeywordCoverageTool()
	if err != nil {
		panic(err)
	}
	return tool
}

func keywordCoverage(ctx context.Context, input KeywordInput) (KeywordOutput, error) {
	haystack := normalize(input.Text)

	out := KeywordOutput{
		Present: []string{},
		Missing: []string{},
	}
	for _, kw := range input.Keywords {
		needle := strings.TrimSpace(normalize(kw))
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, " "+needle+" ") {
			out.Present = append(out.Present, kw)
		} else {
			out.Missing = append(out.Missing, kw)
		}
	}

	total := len(out.Present) + len(out.Missing)
	if total > 0 {
		out.Coverage = float64(len(out.Present)) / float64(total)
	}
	return out, nil
}

// normalize lowercases text, replaces every non-alphanumeric rune with
// a space, and collapses runs of spaces, so "CI/CD" and "ci cd" compare
// equal. The result is padded with a leading and trailing space to make
// whole-word matching a substring check.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}
