package gemini

import "github.com/plumehq/plume/provider"

// modelMeta is the curated capability record for one model ID. The
// live listing is intersected with this table; IDs absent here are not
// offered to the engine. Display names and token limits from the API
// override the curated values when present.
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
	"gemini-2.5-pro": {
		displayName: "Gemini 2.5 Pro",
		context:     1048576,
		vision:      true,
		structured:  true,
		reasoning:   true,
		systemRole:  true,
	},
	"gemini-2.5-flash": {
		displayName: "Gemini 2.5 Flash",
		context:     1048576,
		vision:      true,
		structured:  true,
		reasoning:   true,
		systemRole:  true,
	},
	"gemini-2.5-flash-lite": {
		displayName: "Gemini 2.5 Flash-Lite",
		context:     1048576,
		vision:      true,
		structured:  true,
		reasoning:   true,
		systemRole:  true,
	},
	"gemini-2.0-flash": {
		displayName: "Gemini 2.0 Flash",
		context:     1048576,
		vision:      true,
		structured:  true,
		systemRole:  true,
	},
	"gemini-2.0-flash-lite": {
		displayName: "Gemini 2.0 Flash-Lite",
		context:     1048576,
		vision:      true,
		structured:  true,
		systemRole:  true,
	},
}
