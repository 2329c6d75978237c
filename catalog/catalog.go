// Package catalog tracks which models exist, what each one can do, and
// which of them the user has enabled. Routing decisions consult these
// descriptors only; nothing in the engine infers behavior from a model's
// name.
package catalog

import "github.com/plumehq/plume/provider"

// Capabilities are the declared feature flags of one model.
type Capabilities struct {
	Vision     bool // accepts image input
	Structured bool // honors a JSON-schema response constraint
	Reasoning  bool // accepts a thinking/reasoning-effort parameter
	SystemRole bool // accepts a system-role message
}

// Satisfies reports whether these capabilities cover the requirement.
func (c Capabilities) Satisfies(req Requirement) bool {
	return len(req.Missing(c)) == 0
}

// Requirement is the capability set an operation demands from a model:
// images in the request demand Vision, a response schema demands
// Structured, a thinking level demands Reasoning.
type Requirement struct {
	Vision     bool
	Structured bool
	Reasoning  bool
}

// Missing lists the required capabilities that c lacks.
func (req Requirement) Missing(c Capabilities) []string {
	var missing []string
	if req.Vision && !c.Vision {
		missing = append(missing, "vision")
	}
	if req.Structured && !c.Structured {
		missing = append(missing, "structured_output")
	}
	if req.Reasoning && !c.Reasoning {
		missing = append(missing, "reasoning")
	}
	return missing
}

// Model describes one model the engine may route to.
// Values are immutable; a refresh replaces them wholesale.
type Model struct {
	ID            string
	Provider      string
	DisplayName   string
	ContextWindow int
	Capabilities  Capabilities
}

func fromInfo(info provider.ModelInfo) Model {
	return Model{
		ID:            info.ID,
		Provider:      info.Provider,
		DisplayName:   info.DisplayName,
		ContextWindow: info.ContextWindow,
		Capabilities: Capabilities{
			Vision:     info.Vision,
			Structured: info.Structured,
			Reasoning:  info.Reasoning,
			SystemRole: info.SystemRole,
		},
	}
}
