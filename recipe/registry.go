package recipe

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Custom scrapers are compiled into the binary and register themselves
// by slug, typically from an init in their plugin package. Discovery
// attaches them to the matching recipe; the engine never learns how
// the scraper got there.
var (
	scrapersMu sync.Mutex
	scrapers   = make(map[string]Scraper)
)

// RegisterScraper registers a custom scraper for the recipe slug.
// Registering the same slug twice panics: that is a programming error
// in the plugin table, not a runtime condition.
func RegisterScraper(slug string, s Scraper) {
	scrapersMu.Lock()
	defer scrapersMu.Unlock()
	if _, dup := scrapers[slug]; dup {
		panic(fmt.Sprintf("recipe: scraper for slug %q registered twice", slug))
	}
	scrapers[slug] = s
}

func registeredScraper(slug string) Scraper {
	scrapersMu.Lock()
	defer scrapersMu.Unlock()
	return scrapers[slug]
}

// Registry holds the recipes discovered from a recipes directory.
// Discovery happens once at startup; lookups are read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	recipes map[string]*Recipe
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{recipes: make(map[string]*Recipe)}
}

// Discover scans recipesDir for <slug>/recipe.yaml files and registers
// every recipe that validates. Invalid recipes are skipped with an
// error log so one bad recipe never takes the whole service down.
// A missing directory is not an error: the service starts empty.
func (r *Registry) Discover(recipesDir string) error {
	entries, err := os.ReadDir(recipesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading recipes dir: %w", err)
	}

	loaded := make(map[string]*Recipe)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(recipesDir, entry.Name())

		// A .disabled marker skips the recipe without deleting it.
		if _, err := os.Stat(filepath.Join(dir, ".disabled")); err == nil {
			slog.Info("recipe disabled, skipping", "folder", entry.Name())
			continue
		}

		rec, err := loadRecipe(dir, entry.Name())
		if err != nil {
			slog.Error("skipping invalid recipe", "folder", entry.Name(), "error", err)
			continue
		}
		if rec == nil {
			continue // no recipe.yaml in this folder
		}
		loaded[rec.Slug] = rec
	}

	r.mu.Lock()
	r.recipes = loaded
	r.mu.Unlock()
	slog.Info("recipe discovery complete", "dir", recipesDir, "recipes", len(loaded))
	return nil
}

// Add registers a recipe directly, bypassing the filesystem. The
// recipe must already validate. Used by tests and embedded setups.
func (r *Registry) Add(rec *Recipe) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Scraper == nil {
		rec.Scraper = registeredScraper(rec.Slug)
	}
	r.mu.Lock()
	r.recipes[rec.Slug] = rec
	r.mu.Unlock()
	return nil
}

// Get returns the recipe for slug, or nil when unknown.
func (r *Registry) Get(slug string) *Recipe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recipes[slug]
}

// All returns every registered recipe, sorted by slug.
func (r *Registry) All() []*Recipe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Recipe, 0, len(r.recipes))
	for _, rec := range r.recipes {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Count returns the number of registered recipes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.recipes)
}

func loadRecipe(dir, folder string) (*Recipe, error) {
	path := filepath.Join(dir, "recipe.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var rec Recipe
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.Slug != folder {
		return nil, fmt.Errorf("recipe slug %q does not match folder name %q", rec.Slug, folder)
	}

	rec.Path = dir
	rec.Scraper = registeredScraper(rec.Slug)
	return &rec, nil
}
