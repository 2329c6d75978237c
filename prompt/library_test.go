package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplate(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "tailor-summary.md", `---
description: Rework the summary for a posting
requires: [structured_output]
---
Tailor: {{.Summary}}`)
	writeTemplate(t, dir, "letters/cover-letter.md", `---
description: Draft a cover letter
---
Dear {{.Company}},`)
	writeTemplate(t, dir, "notes.txt", "not a template")

	lib, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, lib.Len())
	assert.Equal(t, []string{"cover-letter", "tailor-summary"}, lib.Names(),
		"templates load in sorted path order")

	tailor, ok := lib.Get("tailor-summary")
	require.True(t, ok)
	assert.Equal(t, "Rework the summary for a posting", tailor.Description)
	assert.True(t, tailor.Requirement().Structured)

	_, ok = lib.Get("notes")
	assert.False(t, ok, "non-markdown files are not templates")
}

func TestLoad_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "a/summary.md", "First.")
	writeTemplate(t, dir, "b/summary.md", "Second.")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate template name")
}

func TestLoad_PropagatesParseErrors(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "broken.md", `---
requires: [levitation]
---
Float.`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "levitation")
}

func TestLoad_EmptyDir(t *testing.T) {
	lib, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, lib.Len())
	assert.Empty(t, lib.Names())
	assert.Empty(t, lib.Templates())
}

func TestLoadGlob(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "top.md", "Top level.")
	writeTemplate(t, dir, "nested/deep.md", "Nested.")

	lib, err := LoadGlob(dir, "*.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"top"}, lib.Names(),
		"a single-star pattern must not descend into subdirectories")
}

func TestLibrary_Templates(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "one.md", "First body.")
	writeTemplate(t, dir, "two.md", "Second body.")

	lib, err := Load(dir)
	require.NoError(t, err)

	templates := lib.Templates()
	require.Len(t, templates, 2)
	assert.Equal(t, "one", templates[0].Name)
	assert.Equal(t, "two", templates[1].Name)
}
