package openai

import "github.com/plumehq/plume/provider"

// modelMeta is the curated capability record for one model ID. The
// live /models listing is intersected with this table; IDs absent here
// are not offered to the engine.
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
	"gpt-4o": {
		displayName: "GPT-4o",
		context:     128000,
		vision:      true,
		structured:  true,
		systemRole:  true,
	},
	"gpt-4o-mini": {
		displayName: "GPT-4o mini",
		context:     128000,
		vision:      true,
		structured:  true,
		systemRole:  true,
	},
	"gpt-4.1": {
		displayName: "GPT-4.1",
		context:     1047576,
		vision:      true,
		structured:  true,
		systemRole:  true,
	},
	"gpt-4.1-mini": {
		displayName: "GPT-4.1 mini",
		context:     1047576,
		vision:      true,
		structured:  true,
		systemRole:  true,
	},
	"gpt-4.1-nano": {
		displayName: "GPT-4.1 nano",
		context:     1047576,
		vision:      true,
		structured:  true,
		systemRole:  true,
	},
	"o3": {
		displayName: "o3",
		context:     200000,
		vision:      true,
		structured:  true,
		reasoning:   true,
		systemRole:  true,
	},
	"o3-mini": {
		displayName: "o3-mini",
		context:     200000,
		structured:  true,
		reasoning:   true,
		systemRole:  true,
	},
	"o4-mini": {
		displayName: "o4-mini",
		context:     200000,
		vision:      true,
		structured:  true,
		reasoning:   true,
		systemRole:  true,
	},
}
