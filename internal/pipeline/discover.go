// pattern: Imperative Shell

package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// discoverSources walks the source directory recursively and returns the
// literate documents it finds, sorted for deterministic dispatch order.
// Hidden files and directories are skipped.
func discoverSources(sourceDir string) ([]string, error) {
	var sources []string

	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != sourceDir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		sources = append(sources, path)
		return nil
	})
	if err != nil {
		// A project without a source directory simply has nothing to build.
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	sort.Strings(sources)
	return sources, nil
}

// buildTarget maps a source document to its build artifact path: the
// source's path relative to the source directory, re-rooted under the
// build directory, with a recognized literate extension stripped.
func buildTarget(source, sourceDir, buildDir string) (string, error) {
	rel, err := filepath.Rel(sourceDir, source)
	if err != nil {
		return "", err
	}
	switch ext := filepath.Ext(rel); ext {
	case ".org", ".lit", ".md":
		rel = strings.TrimSuffix(rel, ext)
	}
	return filepath.Join(buildDir, rel), nil
}
