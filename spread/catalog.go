package spread

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// catalogPattern matches spread definition files under the catalog directory.
const catalogPattern = "**/*.{yaml,yml}"

// Catalog holds the loaded spread definitions. It is safe for concurrent use;
// Reload swaps the definition map atomically under the lock.
type Catalog struct {
	mu      sync.RWMutex
	dir     string
	spreads map[string]*Definition
	logger  *slog.Logger
}

// NewCatalog creates a catalog backed by dir. An empty dir loads only the
// builtin spreads. Definitions from disk override builtins with the same id.
func NewCatalog(dir string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		dir:    dir,
		logger: logger,
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rebuilds the catalog from the builtin set plus the catalog directory.
// A file that fails to parse or validate is skipped with a warning so one bad
// definition cannot take down the rest of the catalog.
func (c *Catalog) Reload() error {
	spreads := make(map[string]*Definition)
	for _, d := range Builtin() {
		spreads[d.ID] = d
	}

	if c.dir != "" {
		paths, err := doublestar.Glob(os.DirFS(c.dir), catalogPattern)
		if err != nil {
			return fmt.Errorf("glob spread catalog %s: %w", c.dir, err)
		}
		sort.Strings(paths)

		for _, rel := range paths {
			path := filepath.Join(c.dir, rel)
			def, err := loadDefinition(path)
			if err != nil {
				c.logger.Warn("skipping spread definition", "path", path, "error", err)
				continue
			}
			spreads[def.ID] = def
		}
	}

	c.mu.Lock()
	c.spreads = spreads
	c.mu.Unlock()

	c.logger.Debug("spread catalog loaded", "dir", c.dir, "spreads", len(spreads))
	return nil
}

func loadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spread file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse spread file: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Get returns the spread with the given id.
func (c *Catalog) Get(id string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.spreads[id]
	return d, ok
}

// List returns all spreads sorted by id.
func (c *Catalog) List() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Definition, 0, len(c.spreads))
	for _, d := range c.spreads {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
