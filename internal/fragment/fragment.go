// pattern: Functional Core

package fragment

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Fragment is a named, reusable code block collected from a lib directory.
type Fragment struct {
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
	Body     string `yaml:"body"`
	Ordinal  int    `yaml:"ordinal"`
}

// Library maps fragment names to fragments. Names are unique within a
// library; precedence between directories is decided at build time.
type Library map[string]Fragment

// BuildFromDirectories scans each directory in order for fragment
// definitions. When the same name appears in multiple directories the
// earlier directory wins; the conflict is not an error. Missing
// directories are skipped.
func BuildFromDirectories(dirs []string) (Library, error) {
	lib := make(Library)
	ordinal := 0

	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			frags, err := parseFile(path)
			if err != nil {
				return err
			}
			for _, f := range frags {
				if _, exists := lib[f.Name]; exists {
					continue // first match wins
				}
				f.Ordinal = ordinal
				ordinal++
				lib[f.Name] = f
			}
			return nil
		})
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return lib, nil
}

// parseFile extracts named source blocks from one library file.
// Recognized form:
//
//	#+name: fragment-name
//	#+begin_src lang
//	...body...
//	#+end_src
//
// Anything outside such blocks is prose and ignored. The tangle engine
// proper is an external collaborator; this parser only needs enough to
// assemble the reusable fragment library.
func parseFile(path string) ([]Fragment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var frags []Fragment
	var pendingName string
	var inBlock bool
	var language string
	var body []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		switch {
		case strings.HasPrefix(lower, "#+name:"):
			pendingName = strings.TrimSpace(trimmed[len("#+name:"):])
		case strings.HasPrefix(lower, "#+begin_src"):
			if pendingName == "" {
				continue // anonymous block, nothing to index
			}
			inBlock = true
			language = strings.TrimSpace(trimmed[len("#+begin_src"):])
			if i := strings.IndexAny(language, " \t"); i >= 0 {
				language = language[:i]
			}
			body = body[:0]
		case strings.HasPrefix(lower, "#+end_src"):
			if inBlock {
				frags = append(frags, Fragment{
					Name:     pendingName,
					Language: language,
					Body:     strings.Join(body, "\n"),
				})
				pendingName = ""
				inBlock = false
			}
		default:
			if inBlock {
				body = append(body, line)
			} else if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
				// Prose between blocks clears a dangling name so a later
				// unrelated block does not inherit it.
				pendingName = ""
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return frags, nil
}
