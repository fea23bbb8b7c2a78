package contextmgr

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// splitFrontMatter separates an optional leading `---` YAML block from the
// prompt body. Files without front matter return a nil map and the whole
// content.
func splitFrontMatter(content []byte) (map[string]any, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, normalized, nil
	}
	rest := normalized[4:]

	var meta, body []byte
	if bytes.HasPrefix(rest, []byte("---\n")) {
		body = rest[4:]
	} else {
		if bytes.HasSuffix(rest, []byte("\n---")) {
			rest = append(rest, '\n')
		}
		parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
		if len(parts) < 2 {
			return nil, nil, fmt.Errorf("unterminated front matter")
		}
		meta, body = parts[0], parts[1]
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(meta)) > 0 {
		if err := yaml.Unmarshal(meta, &out); err != nil {
			return nil, nil, fmt.Errorf("parse front matter: %w", err)
		}
	}
	return out, bytes.TrimLeft(body, "\n"), nil
}
