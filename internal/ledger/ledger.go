// pattern: Functional Core

package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileName is the ledger file kept in the project data directory.
const FileName = "ledger.tsv"

// Ledger maps absolute source paths to the time they were last tangled.
// It is the in-memory build-session state: loaded once per invocation,
// mutated only by the coordinator, flushed at the end.
type Ledger struct {
	entries map[string]time.Time
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]time.Time)}
}

// Load parses a persisted ledger file. A missing file is not an error;
// it yields an empty ledger. Lines are "path<TAB>RFC3339Nano"; malformed
// lines are skipped rather than failing the build, since the worst case
// is an unnecessary rebuild.
func Load(path string) (*Ledger, error) {
	l := New()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		src, stamp, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			continue
		}
		l.entries[src] = ts
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return l, nil
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Recorded returns the recorded tangle time for a source, if any.
func (l *Ledger) Recorded(sourcePath string) (time.Time, bool) {
	t, ok := l.entries[filepath.Clean(sourcePath)]
	return t, ok
}

// IsStale reports whether a source needs tangling: true when no entry
// exists or when the file's modification time is strictly newer than the
// recorded timestamp. A source that cannot be stat'd counts as stale so
// the tangle attempt surfaces the real error.
func (l *Ledger) IsStale(sourcePath string) bool {
	recorded, ok := l.entries[filepath.Clean(sourcePath)]
	if !ok {
		return true
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return true
	}
	return info.ModTime().After(recorded)
}

// Record stores the tangle time for a source, overwriting any earlier entry.
func (l *Ledger) Record(sourcePath string, t time.Time) {
	l.entries[filepath.Clean(sourcePath)] = t
}

// Flush atomically persists the ledger: write to a temp file in the same
// directory, then rename over the target. A crash mid-write leaves the
// previous ledger intact.
func (l *Ledger) Flush(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ledger-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Deterministic order keeps the file diffable.
	paths := make([]string, 0, len(l.entries))
	for p := range l.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	w := bufio.NewWriter(tmp)
	for _, p := range paths {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", p, l.entries[p].Format(time.RFC3339Nano)); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}
