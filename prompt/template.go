// Package prompt loads reusable prompt templates from markdown files.
//
// A template file opens with YAML frontmatter naming it, describing
// it, and declaring the capabilities a serving model must have; the
// rest of the file is the prompt body, rendered with text/template:
//
//	---
//	name: tailor-summary
//	description: Rework the resume summary for a specific job posting
//	requires: [structured_output]
//	---
//	Rewrite this resume summary so it speaks to the posting below.
//
//	Summary: {{.Summary}}
//	Posting: {{.Posting}}
//
// A template's Requirement feeds the engine's eligibility query, so a
// caller can offer only models capable of serving that template.
package prompt

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/plumehq/plume/catalog"
)

// Template is one named prompt preset.
type Template struct {
	Name        string
	Description string

	// Requires holds the frontmatter's capability tokens: "vision",
	// "structured_output", "reasoning".
	Requires []string

	// Source is the file the template was loaded from, empty when
	// parsed from bytes.
	Source string

	body *template.Template
	raw  string
}

// frontmatter is the YAML header of a template file.
type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Requires    []string `yaml:"requires"`
}

// ParseFile parses a single template file. The template is named by
// its frontmatter, or by the file's base name without extension.
func ParseFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tpl, err := Parse(name, data)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	tpl.Source = path
	return tpl, nil
}

// Parse builds a template from markdown bytes. fallback names the
// template when the frontmatter does not.
func Parse(fallback string, data []byte) (*Template, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	tpl := &Template{Name: fallback, raw: body}
	if len(fm) > 0 {
		var meta frontmatter
		if err := yaml.Unmarshal(fm, &meta); err != nil {
			return nil, fmt.Errorf("parsing frontmatter: %w", err)
		}
		if meta.Name != "" {
			tpl.Name = meta.Name
		}
		tpl.Description = meta.Description
		tpl.Requires = meta.Requires
	}

	if tpl.Name == "" {
		return nil, fmt.Errorf("template has no name")
	}
	if _, err := requirementOf(tpl.Requires); err != nil {
		return nil, err
	}

	parsed, err := template.New(tpl.Name).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing body: %w", err)
	}
	tpl.body = parsed

	return tpl, nil
}

// Render substitutes data into the template body.
func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering template %s: %w", t.Name, err)
	}
	return buf.String(), nil
}

// Body returns the unrendered template text.
func (t *Template) Body() string {
	return t.raw
}

// Requirement translates the template's capability tokens into the
// catalog's requirement shape, for eligibility queries.
func (t *Template) Requirement() catalog.Requirement {
	req, _ := requirementOf(t.Requires)
	return req
}

// requirementOf maps frontmatter tokens onto a requirement. Tokens use
// the same names the catalog reports for missing capabilities.
func requirementOf(tokens []string) (catalog.Requirement, error) {
	var req catalog.Requirement
	for _, tok := range tokens {
		switch tok {
		case "vision":
			req.Vision = true
		case "structured_output":
			req.Structured = true
		case "reasoning":
			req.Reasoning = true
		default:
			return catalog.Requirement{}, fmt.Errorf("unknown required capability %q", tok)
		}
	}
	return req, nil
}

// splitFrontmatter separates the YAML header from the body. The header
// is delimited by "---" lines at the very start of the file; without
// one the whole input is body.
func splitFrontmatter(data []byte) (fm []byte, body string, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, string(data), nil
	}
	if strings.TrimSpace(scanner.Text()) != "---" {
		return nil, string(data), nil
	}

	var fmLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		fmLines = append(fmLines, line)
	}
	if !closed {
		return nil, string(data), nil
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("scanning template: %w", err)
	}

	return []byte(strings.Join(fmLines, "\n")), strings.TrimSpace(strings.Join(bodyLines, "\n")), nil
}
