package frontmatter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractParsesLeadingBlock(t *testing.T) {
	content := "---\ntitle: Auth PRD\nowner: jane\ntags:\n  - auth\n---\n# Body\ntext here\n"
	fields, body := Extract(content)
	require.Equal(t, "Auth PRD", fields["title"])
	assert.Equal(t, "jane", fields["owner"])
	assert.Equal(t, "\n# Body\ntext here\n", body)
}

func TestExtractNoFrontmatterReturnsContentUnchanged(t *testing.T) {
	content := "# Just a body\nno frontmatter here\n"
	fields, body := Extract(content)
	assert.Empty(t, fields)
	assert.Equal(t, content, body)
}

func TestExtractMalformedBlockFallsBackToOriginal(t *testing.T) {
	content := "---\n[not: valid: yaml:\n---\nbody\n"
	fields, body := Extract(content)
	assert.Empty(t, fields)
	assert.Equal(t, content, body)
}

func TestExtractUnterminatedBlockReturnsUnchanged(t *testing.T) {
	content := "---\ntitle: no closing fence\nmore text\n"
	fields, body := Extract(content)
	assert.Empty(t, fields)
	assert.Equal(t, content, body)
}
