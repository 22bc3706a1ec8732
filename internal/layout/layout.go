// pattern: Functional Core

package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tangld/internal/config"
)

// ErrInvalidLayout reports a directory configuration that cannot resolve
// to a usable project tree.
var ErrInvalidLayout = errors.New("invalid project layout")

// Dirs holds the six logical project directories as absolute paths.
// Resolved once at startup and read-only thereafter.
type Dirs struct {
	Root    string
	Lib     string
	Build   string
	Source  string
	Install string
	System  string
}

// All returns the directories in a fixed order, root first.
func (d Dirs) All() []string {
	return []string{d.Root, d.Lib, d.Build, d.Source, d.Install, d.System}
}

// Resolve turns raw configured directories into absolute paths.
// Relative entries resolve against Root; a leading ~ expands to the home
// directory. Pure aside from home lookup; no directory is created here.
func Resolve(raw config.Dirs) (Dirs, error) {
	if raw.Root == "" {
		return Dirs{}, fmt.Errorf("%w: root is empty", ErrInvalidLayout)
	}

	root, err := expand(raw.Root)
	if err != nil {
		return Dirs{}, err
	}
	if !filepath.IsAbs(root) {
		abs, err := filepath.Abs(root)
		if err != nil {
			return Dirs{}, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
		}
		root = abs
	}

	d := Dirs{Root: root}
	for _, e := range []struct {
		raw string
		dst *string
	}{
		{raw.Lib, &d.Lib},
		{raw.Build, &d.Build},
		{raw.Source, &d.Source},
		{raw.Install, &d.Install},
		{raw.System, &d.System},
	} {
		p, err := expand(e.raw)
		if err != nil {
			return Dirs{}, err
		}
		if p == "" {
			return Dirs{}, fmt.Errorf("%w: empty directory entry", ErrInvalidLayout)
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		*e.dst = filepath.Clean(p)
	}

	return d, nil
}

// expand replaces a leading ~ with the home directory and rejects entries
// containing unresolved variables.
func expand(p string) (string, error) {
	if strings.Contains(p, "$") {
		return "", fmt.Errorf("%w: unresolved variable in %q", ErrInvalidLayout, p)
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("%w: cannot expand ~ in %q", ErrInvalidLayout, p)
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
	}
	return p, nil
}

// Materialize creates any missing project directories and returns the set
// it created. Idempotent: existing directories are skipped. A path that
// exists as a non-directory is an error.
func Materialize(d Dirs) ([]string, error) {
	var created []string
	for _, dir := range d.All() {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return created, fmt.Errorf("%s exists but is not a directory", dir)
			}
			continue
		}
		if !os.IsNotExist(err) {
			return created, err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return created, err
		}
		created = append(created, dir)
	}
	return created, nil
}

// Teardown removes the entire project tree rooted at Root.
func Teardown(d Dirs) error {
	if d.Root == "" || d.Root == string(filepath.Separator) {
		return fmt.Errorf("%w: refusing to remove %q", ErrInvalidLayout, d.Root)
	}
	return os.RemoveAll(d.Root)
}
