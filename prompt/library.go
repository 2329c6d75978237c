package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Library is a set of templates loaded from a directory, addressed by
// name.
type Library struct {
	templates map[string]*Template
	order     []string
}

// Load discovers every markdown file under dir, recursively, and
// parses each as a template. Template names must be unique across the
// whole tree.
func Load(dir string) (*Library, error) {
	return LoadGlob(dir, "**/*.md")
}

// LoadGlob is Load with an explicit doublestar pattern, relative to
// dir.
func LoadGlob(dir, pattern string) (*Library, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing templates: %w", err)
	}
	sort.Strings(matches)

	lib := &Library{templates: make(map[string]*Template, len(matches))}
	for _, rel := range matches {
		tpl, err := ParseFile(filepath.Join(dir, rel))
		if err != nil {
			return nil, err
		}
		if prev, dup := lib.templates[tpl.Name]; dup {
			return nil, fmt.Errorf("duplicate template name %q (%s and %s)",
				tpl.Name, prev.Source, tpl.Source)
		}
		lib.templates[tpl.Name] = tpl
		lib.order = append(lib.order, tpl.Name)
	}
	return lib, nil
}

// Get returns the template with the given name.
func (l *Library) Get(name string) (*Template, bool) {
	tpl, ok := l.templates[name]
	return tpl, ok
}

// Names returns every template name in load order.
func (l *Library) Names() []string {
	return append([]string(nil), l.order...)
}

// Templates returns every template in load order.
func (l *Library) Templates() []*Template {
	out := make([]*Template, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.templates[name])
	}
	return out
}

// Len reports how many templates are loaded.
func (l *Library) Len() int {
	return len(l.order)
}
