// pattern: Imperative Shell

package fragment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"tangld/internal/logging"
)

// CacheFileName is the serialized library blob in the project data directory.
const CacheFileName = "fragments.yaml"

// ErrCacheCorrupt reports a cache blob that cannot be deserialized.
// Callers treat it as a cache miss; caches are always safe to discard.
var ErrCacheCorrupt = errors.New("fragment cache corrupt")

// Serialize encodes a library as a yaml blob with fragments in ordinal
// order, so repeated serializations of equal libraries are byte-identical.
func Serialize(lib Library) ([]byte, error) {
	frags := make([]Fragment, 0, len(lib))
	for _, f := range lib {
		frags = append(frags, f)
	}
	sort.Slice(frags, func(i, j int) bool {
		if frags[i].Ordinal != frags[j].Ordinal {
			return frags[i].Ordinal < frags[j].Ordinal
		}
		return frags[i].Name < frags[j].Name
	})

	return yaml.Marshal(struct {
		Fragments []Fragment `yaml:"fragments"`
	}{frags})
}

// Deserialize decodes a blob produced by Serialize. A blob that does not
// parse, or that contains duplicate or unnamed fragments, is ErrCacheCorrupt.
func Deserialize(blob []byte) (Library, error) {
	var doc struct {
		Fragments []Fragment `yaml:"fragments"`
	}
	if err := yaml.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}

	lib := make(Library, len(doc.Fragments))
	for _, f := range doc.Fragments {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: unnamed fragment", ErrCacheCorrupt)
		}
		if _, dup := lib[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate fragment %q", ErrCacheCorrupt, f.Name)
		}
		lib[f.Name] = f
	}
	return lib, nil
}

// Cache is a read-through cache for the fragment library with explicit
// invalidation only: a forced refresh or removing the blob (clean).
type Cache struct {
	Path    string // cache blob location
	Enabled bool

	logger *logging.ScopedLogger
}

// NewCache creates a cache over the given blob path.
func NewCache(path string, enabled bool, logger *logging.ScopedLogger) *Cache {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Cache{Path: path, Enabled: enabled, logger: logger}
}

// LoadEffective returns the library to use for this invocation. With
// caching enabled and no forced refresh it deserializes the blob when
// present; otherwise it rebuilds from the lib directories and, when
// caching is enabled, overwrites the blob. A corrupt blob is a cache
// miss, never a fatal error.
func (c *Cache) LoadEffective(dirs []string, force bool) (Library, error) {
	if c.Enabled && !force {
		blob, err := os.ReadFile(c.Path)
		if err == nil {
			lib, derr := Deserialize(blob)
			if derr == nil {
				c.logger.Debug("fragment library loaded from cache", "path", c.Path, "fragments", len(lib))
				return lib, nil
			}
			c.logger.Warn("discarding corrupt fragment cache", "path", c.Path, "error", derr)
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	lib, err := BuildFromDirectories(dirs)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("fragment library rebuilt", "dirs", dirs, "fragments", len(lib))

	if c.Enabled {
		if err := c.write(lib); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// Invalidate removes the cache blob. Missing blob is fine.
func (c *Cache) Invalidate() error {
	err := os.Remove(c.Path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// write persists the blob atomically (temp + rename).
func (c *Cache) write(lib Library) error {
	blob, err := Serialize(lib)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.Path), ".fragments-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, c.Path)
}
