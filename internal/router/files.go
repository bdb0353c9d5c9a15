package router

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// fileListCap bounds how many project files a picker will page over.
const fileListCap = 200

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".touchgrass":  true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
	"__pycache__":  true,
}

// listProjectFiles walks the project tree and returns relative paths,
// optionally filtered by a case-insensitive substring match.
func listProjectFiles(root, query string) ([]string, error) {
	query = strings.ToLower(query)
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if skipDirs[name] || strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if query != "" && !strings.Contains(strings.ToLower(rel), query) {
			return nil
		}
		files = append(files, rel)
		if len(files) >= fileListCap {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
