// Package panel fans one structured request out to several models
// concurrently and aggregates their answers by a voting scheme.
//
// Every model answers the same prompt independently; a leg that fails
// or produces an invalid ballot is recorded and excluded, never
// aborting its siblings. Once at least a quorum of valid ballots is in,
// the scheme tallies them: FirstPastThePost counts one vote per model,
// ScoreVoting sums each model's point allocation. The result keeps the
// per-model outcomes and the excluded ids for audit.
package panel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/plumehq/plume/llm"
	"github.com/plumehq/plume/provider"
)

// Scheme selects how ballots are tallied.
type Scheme string

const (
	// FirstPastThePost gives each model one indivisible vote for a
	// single candidate; the highest count wins.
	FirstPastThePost Scheme = "first_past_the_post"

	// ScoreVoting lets each model distribute a fixed point budget
	// across candidates; the highest point total wins.
	ScoreVoting Scheme = "score"
)

const (
	defaultQuorum = 1
	defaultBudget = 20
)

// Ballot is one model's vote. FirstPastThePost reads Choice,
// ScoreVoting reads Scores; the other field is ignored. A ballot that
// names no candidate is an abstention.
type Ballot struct {
	Choice string
	Scores map[string]int
}

// BallotFunc maps a model's structured answer to its ballot. The model
// id is passed so a caller can weigh voters differently.
type BallotFunc[T any] func(modelID string, answer T) Ballot

// Outcome records what one leg of the fan-out produced: the parsed
// answer and its ballot, or the error that excluded the model.
type Outcome[T any] struct {
	ModelID string
	Answer  T
	Ballot  Ballot
	Err     error
}

// Result is the aggregate of a vote.
type Result[T any] struct {
	// Winner is the candidate with the highest tally.
	Winner string

	// Tally maps each candidate to its total: votes under
	// FirstPastThePost, points under ScoreVoting.
	Tally map[string]int

	// Excluded lists the models whose leg failed or whose ballot was
	// rejected, in submission order.
	Excluded []string

	// Outcomes holds every leg's outcome in submission order.
	Outcomes []Outcome[T]
}

// Ballot rejection reasons, recorded on the excluded leg's outcome.
var (
	// ErrAbstained marks a ballot that named no candidate.
	ErrAbstained = errors.New("ballot abstained")

	// ErrOverspent marks a score ballot that spent more than the
	// point budget.
	ErrOverspent = errors.New("ballot exceeds score budget")

	// ErrNegativeScore marks a score ballot with a negative
	// allocation.
	ErrNegativeScore = errors.New("ballot has negative score")
)

// InsufficientError is returned when fewer legs produced a valid
// ballot than the quorum requires.
type InsufficientError struct {
	Required  int
	Succeeded int
	Excluded  []string
}

func (e *InsufficientError) Error() string {
	msg := fmt.Sprintf("insufficient responses: %d valid of %d required", e.Succeeded, e.Required)
	if len(e.Excluded) > 0 {
		msg += " (excluded: " + strings.Join(e.Excluded, ", ") + ")"
	}
	return msg
}

// ErrorKind classifies the error in the engine's taxonomy, so
// llm.KindOf reports KindInsufficientResponses.
func (e *InsufficientError) ErrorKind() provider.ErrorKind {
	return provider.KindInsufficientResponses
}

// Option configures a vote or fan-out.
type Option func(*config)

type config struct {
	scheme      Scheme
	quorum      int
	budget      int
	operationID string
	callOpts    []llm.CallOption
}

func newConfig(opts ...Option) *config {
	cfg := &config{scheme: FirstPastThePost}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.quorum < 1 {
		cfg.quorum = defaultQuorum
	}
	if cfg.budget < 1 {
		cfg.budget = defaultBudget
	}
	if cfg.operationID == "" {
		cfg.operationID = uuid.NewString()
	}
	return cfg
}

// WithScheme selects the voting scheme. Default FirstPastThePost.
func WithScheme(s Scheme) Option {
	return func(c *config) {
		c.scheme = s
	}
}

// WithQuorum sets the minimum number of valid ballots required before
// tallying, at least 1. Default 1.
func WithQuorum(n int) Option {
	return func(c *config) {
		c.quorum = n
	}
}

// WithScoreBudget sets the point budget for ScoreVoting. A ballot
// spending more than the budget is rejected; spending less is allowed.
// Default 20.
func WithScoreBudget(n int) Option {
	return func(c *config) {
		c.budget = n
	}
}

// WithOperationID sets the base operation id. Each leg runs under
// "<base>/<modelID>", so Engine.Cancel can abort one leg without
// touching its siblings. Without it a fresh base id is assigned.
func WithOperationID(id string) Option {
	return func(c *config) {
		c.operationID = id
	}
}

// WithCallOptions adds options applied to every leg's call, such as a
// system message or sampling parameters.
func WithCallOptions(opts ...llm.CallOption) Option {
	return func(c *config) {
		c.callOpts = append(c.callOpts, opts...)
	}
}

// Vote sends prompt to every model concurrently as a structured call,
// maps each answer to a ballot, and tallies the ballots under the
// configured scheme.
//
// A leg that fails, or whose ballot the scheme rejects, is excluded
// and recorded; it never aborts the other legs. When fewer valid
// ballots remain than the quorum requires, Vote returns an
// InsufficientError. Ties break toward the candidate that appeared
// first in successful-respondent order, respondents taken in the
// submission order of modelIDs and a score ballot's candidates in
// lexical order.
//
// Example:
//
//	type review struct {
//	    Best   string         `json:"best" jsonschema:"required,description=Id of the strongest draft"`
//	    Points map[string]int `json:"points" jsonschema:"description=Up to 20 points split across drafts"`
//	}
//
//	result, err := panel.Vote(ctx, engine,
//	    "Which draft summary fits the posting best? ...",
//	    []string{"gpt-5-mini", "claude-sonnet-4-5", "gemini-2.5-flash"},
//	    func(modelID string, r review) panel.Ballot {
//	        return panel.Ballot{Choice: r.Best, Scores: r.Points}
//	    },
//	    panel.WithScheme(panel.ScoreVoting),
//	    panel.WithQuorum(2),
//	)
func Vote[T any](ctx context.Context, e *llm.Engine, prompt string, modelIDs []string, ballot BallotFunc[T], opts ...Option) (*Result[T], error) {
	cfg := newConfig(opts...)
	log := e.Logger()

	outcomes := collect[T](ctx, e, prompt, modelIDs, cfg)

	for i := range outcomes {
		o := &outcomes[i]
		if o.Err != nil {
			continue
		}
		b := ballot(o.ModelID, o.Answer)
		if err := cfg.checkBallot(b); err != nil {
			o.Err = err
			continue
		}
		o.Ballot = b
	}

	var excluded []string
	ballots := make([]Ballot, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			excluded = append(excluded, o.ModelID)
			log.Warn("panel leg excluded",
				"operation", cfg.operationID, "model", o.ModelID, "error", o.Err)
			continue
		}
		ballots = append(ballots, o.Ballot)
	}

	if len(ballots) < cfg.quorum {
		return nil, &InsufficientError{
			Required:  cfg.quorum,
			Succeeded: len(ballots),
			Excluded:  excluded,
		}
	}

	tally, order := tallyBallots(cfg.scheme, ballots)
	winner := pickWinner(tally, order)

	log.Debug("panel vote complete",
		"operation", cfg.operationID, "scheme", cfg.scheme,
		"winner", winner, "valid", len(ballots), "excluded", len(excluded))

	return &Result[T]{
		Winner:   winner,
		Tally:    tally,
		Excluded: excluded,
		Outcomes: outcomes,
	}, nil
}

// Collect runs one structured call per model concurrently and returns
// every leg's outcome in submission order, without voting. Use it for
// "ask several models, show all answers" flows.
func Collect[T any](ctx context.Context, e *llm.Engine, prompt string, modelIDs []string, opts ...Option) []Outcome[T] {
	return collect[T](ctx, e, prompt, modelIDs, newConfig(opts...))
}

// collect is the shared fan-out: one goroutine per leg, each writing
// only its own slot. A leg's failure lands in its outcome and nowhere
// else.
func collect[T any](ctx context.Context, e *llm.Engine, prompt string, modelIDs []string, cfg *config) []Outcome[T] {
	outcomes := make([]Outcome[T], len(modelIDs))

	var wg sync.WaitGroup
	for i, id := range modelIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()

			legOpts := make([]llm.CallOption, 0, len(cfg.callOpts)+2)
			legOpts = append(legOpts, cfg.callOpts...)
			legOpts = append(legOpts,
				llm.WithModel(id),
				llm.WithOperationID(cfg.operationID+"/"+id),
			)

			resp, err := llm.CallParse[T](ctx, e, prompt, legOpts...)
			if err != nil {
				outcomes[i] = Outcome[T]{ModelID: id, Err: err}
				return
			}
			outcomes[i] = Outcome[T]{ModelID: id, Answer: resp.Parsed()}
		}(i, id)
	}
	wg.Wait()

	return outcomes
}

// checkBallot applies the scheme's validity rules. A rejected ballot
// excludes its model from the tally.
func (c *config) checkBallot(b Ballot) error {
	switch c.scheme {
	case ScoreVoting:
		if len(b.Scores) == 0 {
			return ErrAbstained
		}
		spent := 0
		for candidate, pts := range b.Scores {
			if pts < 0 {
				return fmt.Errorf("%w: %q", ErrNegativeScore, candidate)
			}
			spent += pts
		}
		if spent > c.budget {
			return fmt.Errorf("%w: spent %d of %d", ErrOverspent, spent, c.budget)
		}
		return nil
	default:
		if b.Choice == "" {
			return ErrAbstained
		}
		return nil
	}
}

// tallyBallots sums the valid ballots and records each candidate's
// first appearance for tie-breaking.
func tallyBallots(scheme Scheme, ballots []Ballot) (map[string]int, []string) {
	tally := make(map[string]int)
	var order []string
	seen := make(map[string]bool)

	note := func(candidate string) {
		if !seen[candidate] {
			seen[candidate] = true
			order = append(order, candidate)
		}
	}

	for _, b := range ballots {
		if scheme == ScoreVoting {
			for _, candidate := range sortedCandidates(b.Scores) {
				note(candidate)
				tally[candidate] += b.Scores[candidate]
			}
			continue
		}
		note(b.Choice)
		tally[b.Choice]++
	}
	return tally, order
}

func sortedCandidates(scores map[string]int) []string {
	out := make([]string, 0, len(scores))
	for candidate := range scores {
		out = append(out, candidate)
	}
	sort.Strings(out)
	return out
}

// pickWinner returns the candidate with the highest total; a tie goes
// to the candidate noted earliest.
func pickWinner(tally map[string]int, order []string) string {
	winner := ""
	best := -1
	for _, candidate := range order {
		if tally[candidate] > best {
			winner = candidate
			best = tally[candidate]
		}
	}
	return winner
}
