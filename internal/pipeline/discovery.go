package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPattern matches the extraction stage's output naming.
const DefaultPattern = "*_extraction.json"

// Discover resolves the input path to the list of source files. A file input
// is returned as-is; a directory is scanned (recursively when asked) for
// names matching pattern. The result is sorted so runs are reproducible.
func Discover(root, pattern string, recursive bool) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("input path: %w", err)
	}

	if !info.IsDir() {
		if !strings.HasSuffix(root, ".json") {
			return nil, fmt.Errorf("input file %s is not a JSON document", root)
		}
		return []string{root}, nil
	}

	var files []string
	if recursive {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if ok, _ := filepath.Match(pattern, d.Name()); ok {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if ok, _ := filepath.Match(pattern, e.Name()); ok {
				files = append(files, filepath.Join(root, e.Name()))
			}
		}
	}

	sort.Strings(files)
	return files, nil
}
