// Package frontmatter extracts the optional leading YAML block from a
// document's body. It is a
// pure function: no filesystem or registry access.
package frontmatter

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Extract splits content on a leading "---" delimited YAML block,
// returning the decoded fields and the remaining body. If content has
// no leading frontmatter block, or the block fails to parse as YAML,
// Extract returns an empty map and content unchanged.
func Extract(content string) (map[string]any, string) {
	if !strings.HasPrefix(content, "---") {
		return map[string]any{}, content
	}
	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return map[string]any{}, content
	}
	var fields map[string]any
	if err := yaml.Unmarshal([]byte(parts[1]), &fields); err != nil || fields == nil {
		return map[string]any{}, content
	}
	return fields, parts[2]
}
