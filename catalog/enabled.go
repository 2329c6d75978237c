package catalog

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// EnabledSet is the user's enabled-model selection, consumed read-only.
// Entries are exact model ids or doublestar glob patterns such as
// "anthropic/*" or "*-mini".
type EnabledSet interface {
	EnabledModelIDs() []string
}

type staticSet []string

func (s staticSet) EnabledModelIDs() []string {
	return s
}

// StaticEnabled returns a fixed enabled set.
func StaticEnabled(ids ...string) EnabledSet {
	return staticSet(ids)
}

// AllEnabled returns a set that enables every model the catalog knows.
func AllEnabled() EnabledSet {
	return staticSet{"**"}
}

// enabledConfig is the on-disk shape of the enabled-models file.
type enabledConfig struct {
	EnabledModels []string `yaml:"enabled_models"`
}

// LoadEnabledFile reads an enabled-model set from a YAML file:
//
//	enabled_models:
//	  - gpt-4o
//	  - anthropic/*
func LoadEnabledFile(path string) (EnabledSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading enabled models file: %w", err)
	}

	var cfg enabledConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing enabled models file %s: %w", path, err)
	}

	return StaticEnabled(cfg.EnabledModels...), nil
}

// matchesEnabled reports whether id is selected by any pattern.
func matchesEnabled(patterns []string, id string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, id); err == nil && ok {
			return true
		}
	}
	return false
}
