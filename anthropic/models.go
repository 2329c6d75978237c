package anthropic

import "github.com/plumehq/plume/provider"

// modelMeta is the curated capability record for one model ID. The
// live /v1/models listing is intersected with this table; IDs absent
// here are not offered to the engine.
type modelMeta struct {
	displayName string
	context     int
	vision      bool
	structured  bool
	reasoning   bool
	systemRole  bool
}

func (m modelMeta) info(id string) provider.ModelInfo {
	return provider.ModelInfo{
		ID:            id,
		Provider:      providerName,
		DisplayName:   m.displayName,
		ContextWindow: m.context,
		Vision:        m.vision,
		Structured:    m.structured,
		Reasoning:     m.reasoning,
		SystemRole:    m.systemRole,
	}
}

var knownModels = map[string]modelMeta{
	"claude-opus-4-1-20250805": {
		displayName: "Claude Opus 4.1",
		context:     200000,
		vision:      true,
		structured:  true,
		reasoning:   true,
		systemRole:  true,
	},
	"claude-sonnet-4-5-20250929": {
		displayName: "Claude Sonnet 4.5",
		context:     200000,
		vision:      true,
		structured:  true,
		reasoning:   true,
		systemRole:  true,
	},
	"claude-sonnet-4-20250514": {
		displayName: "Claude Sonnet 4",
		context:     200000,
		vision:      true,
		structured:  true,
		reasoning:   true,
		systemRole:  true,
	},
	"claude-3-7-sonnet-20250219": {
		displayName: "Claude Sonnet 3.7",
		context:     200000,
		vision:      true,
		structured:  true,
		reasoning:   true,
		systemRole:  true,
	},
	"claude-haiku-4-5-20251001": {
		displayName: "Claude Haiku 4.5",
		context:     200000,
		vision:      true,
		structured:  true,
		reasoning:   true,
		systemRole:  true,
	},
	"claude-3-5-haiku-20241022": {
		displayName: "Claude Haiku 3.5",
		context:     200000,
		vision:      true,
		systemRole:  true,
	},
}
