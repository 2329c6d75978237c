package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/plumehq/plume/llm"
)

// SpanInput defines the input for the DateSpan tool.
type SpanInput struct {
	From string `json:"from" jsonschema:"required,description=Start month in YYYY-MM form"`
	To   string `json:"to,omitempty" jsonschema:"description=End month in YYYY-MM form (default: the current month)"`
}

// SpanOutput defines the output of the DateSpan tool. Months counts
// both endpoint months, matching how employment history displays
// tenure.
type SpanOutput struct {
	Months  int    `json:"months"`
	Years   int    `json:"years"`
	Rest    int    `json:"rest_months"`
	Display string `json:"display"`
}

// DateSpanTool returns the DateSpan tool.
func DateSpanTool() (llm.Tool, error) {
	return llm.NewTool(
		"date_span",
		"Compute the length of an employment period between two months, inclusive. Use it for tenure and experience totals instead of estimating.",
		dateSpan,
	)
}

// MustDateSpan returns the DateSpan tool, panicking on error.
func MustDateSpan() llm.Tool {
	tool, err := DateSpanTool()
	if err != nil {
		panic(err)
	}
	return tool
}

func dateSpan(ctx context.Context, input SpanInput) (SpanOutput, error) {
	from, err := time.Parse("2006-01", input.From)
	if err != nil {
		return SpanOutput{}, fmt.Errorf("parsing from month %q: %w", input.From, err)
	}

	to := time.Now().UTC()
	if input.To != "" {
		to, err = time.Parse("2006-01", input.To)
		if err != nil {
			return SpanOutput{}, fmt.Errorf("parsing to month %q: %w", input.To, err)
		}
	}

	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month()) + 1
	if months < 1 {
		return SpanOutput{}, fmt.Errorf("end month %s is before start month %s", to.Format("2006-01"), input.From)
	}

	out := SpanOutput{
		Months: months,
		Years:  months / 12,
		Rest:   months % 12,
	}
	out.Display = formatSpan(out.Years, out.Rest)
	return out, nil
}

func formatSpan(years, months int) string {
	switch {
	case years == 0:
		return fmt.Sprintf("%d mo", months)
	case months == 0:
		return fmt.Sprintf("%d yr", years)
	default:
		return fmt.Sprintf("%d yr %d mo", years, months)
	}
}
