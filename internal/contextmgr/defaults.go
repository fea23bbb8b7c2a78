package contextmgr

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed defaults/*.md
var defaultPrompts embed.FS

// writeDefaults seeds dir with the built-in prompts when it holds no
// markdown files.
func writeDefaults(dir string) ([]string, error) {
	existing, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, nil
	}

	entries, err := fs.ReadDir(defaultPrompts, "defaults")
	if err != nil {
		return nil, err
	}
	var written []string
	for _, e := range entries {
		data, err := defaultPrompts.ReadFile("defaults/" + e.Name())
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, e.Name())
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, fmt.Errorf("writing default prompt %s: %w", e.Name(), err)
		}
		written = append(written, e.Name())
	}
	return written, nil
}
