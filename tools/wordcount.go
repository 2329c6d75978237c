// Package tools provides built-in tools for resume-editing calls:
// deterministic text and date helpers a model can invoke instead of
// estimating.
package tools

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/plumehq/plume/llm"
)

// WordCountInput defines the input for the WordCount tool.
type WordCountInput struct {
	Text string `json:"text" jsonschema:"required,description=Text to measure"`
}

// WordCountOutput defines the output of the WordCount tool.
type WordCountOutput struct {
	Words      int `json:"words"`
	Characters int `json:"characters"`
	Lines      int `json:"lines"`
}

// WordCountTool returns the WordCount tool.
func WordCountTool() (llm.Tool, error) {
	return llm.NewTool(
		"word_count",
		"Count words, characters, and lines in a piece of text. Use it to check a section against a length limit instead of estimating.",
		countWords,
	)
}

// MustWordCount returns the WordCount tool, panicking on error.
func MustWordCount() llm.Tool {
	tool, err := WordCountTool()
	if err != nil {
		panic(err)
	}
	return tool
}

func countWords(ctx context.Context, input WordCountInput) (WordCountOutput, error) {
	out := WordCountOutput{
		Words:      len(strings.Fields(input.Text)),
		Characters: utf8.RuneCountInString(input.Text),
	}
	if input.Text != "" {
		out.Lines = strings.Count(input.Text, "\n") + 1
	}
	return out, nil
}
