package tools

import "github.com/plumehq/plume/llm"

// AllTools returns all built-in tools.
func AllTools() []llm.Tool {
	return []llm.Tool{
		MustWordCount(),
		MustDateSpan(),
		MustKeywordCoverage(),
	}
}
