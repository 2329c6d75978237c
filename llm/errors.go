package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/plumehq/plume/jsonx"
	"github.com/plumehq/plume/provider"
)

// Common errors.
var (
	// ErrModelRequired is returned when WithModel is not specified.
	ErrModelRequired = errors.New("model is required: use WithModel option")
)

// KindOf classifies an error returned by any engine operation into the
// error taxonomy. Callers branch on the kind, never on message text.
// Errors outside the taxonomy, such as ErrModelRequired, classify as
// the empty string.
func KindOf(err error) provider.ErrorKind {
	if err == nil {
		return ""
	}
	if pe, ok := provider.AsError(err); ok {
		return pe.Kind
	}

	var parseErr *jsonx.ParseError
	if errors.As(err, &parseErr) {
		return provider.KindResponseParse
	}

	var kinded interface{ ErrorKind() provider.ErrorKind }
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return provider.KindCancelled
	}
	return ""
}

// Retryable reports whether the error is worth retrying with backoff.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// ToolError represents an error during tool execution.
type ToolError struct {
	ToolName string
	Cause    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.ToolName, e.Cause)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// ToolNotFoundError is returned when a tool is not found.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %q", e.Name)
}
