// Package scripts runs named external computations and keeps the catalog of
// what is available. A computation receives one JSON document on stdin and
// answers with one JSON document on stdout.
package scripts

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Script describes one runnable computation
type Script struct {
	Name        string                 `json:"name" yaml:"name"`
	Path        string                 `json:"path" yaml:"path"`
	Description string                 `json:"description" yaml:"description"`
	Category    string                 `json:"category,omitempty" yaml:"category,omitempty"`
	Strategies  []string               `json:"strategies,omitempty" yaml:"strategies,omitempty"`
	Input       map[string]interface{} `json:"input,omitempty" yaml:"input,omitempty"`
}

// Manifest is the on-disk catalog document
type Manifest struct {
	Scripts []Script `json:"scripts" yaml:"scripts"`
}

// Entry is the short catalog view of a script
type Entry struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Category    string                 `json:"category,omitempty"`
	Strategies  []string               `json:"strategies,omitempty"`
	Input       map[string]interface{} `json:"input,omitempty"`
}

// LoadManifest reads a manifest from fs. The format follows the extension:
// .yaml and .yml are YAML, anything else is JSON.
func LoadManifest(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	seen := make(map[string]bool, len(m.Scripts))
	for i, s := range m.Scripts {
		if s.Name == "" {
			return nil, fmt.Errorf("manifest %s: script %d has no name", path, i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("manifest %s: duplicate script %s", path, s.Name)
		}
		seen[s.Name] = true
	}

	return &m, nil
}

// Catalog is the live manifest. Reload swaps it atomically; a failed reload
// keeps the previous contents.
type Catalog struct {
	fs       afero.Fs
	path     string
	logger   zerolog.Logger
	mu       sync.RWMutex
	manifest Manifest
}

// NewCatalog creates a catalog backed by path on fs and loads it once.
// An empty path yields an empty catalog.
func NewCatalog(fs afero.Fs, path string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		fs:     fs,
		path:   path,
		logger: logger.With().Str("component", "scripts").Logger(),
	}
	if path == "" {
		return c, nil
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the manifest location
func (c *Catalog) Path() string {
	return c.path
}

// Reload re-reads the manifest from disk
func (c *Catalog) Reload() error {
	m, err := LoadManifest(c.fs, c.path)
	if err != nil {
		c.logger.Error().Err(err).Str("path", c.path).Msg("scripts.manifest.error")
		return err
	}

	c.mu.Lock()
	c.manifest = *m
	c.mu.Unlock()

	c.logger.Info().Str("path", c.path).Int("scripts", len(m.Scripts)).Msg("scripts.manifest.loaded")
	return nil
}

// Manifest returns a copy of the current manifest
func (c *Catalog) Manifest() Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Manifest{Scripts: make([]Script, len(c.manifest.Scripts))}
	copy(out.Scripts, c.manifest.Scripts)
	return out
}

// Lookup returns the script named name
func (c *Catalog) Lookup(name string) (Script, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.manifest.Scripts {
		if s.Name == name {
			return s, true
		}
	}
	return Script{}, false
}

// Filter lists scripts matching category and strategy; empty filters match all
func (c *Catalog) Filter(category, strategy string) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Entry, 0, len(c.manifest.Scripts))
	for _, s := range c.manifest.Scripts {
		if category != "" && s.Category != category {
			continue
		}
		if strategy != "" && !contains(s.Strategies, strategy) {
			continue
		}
		entries = append(entries, Entry{
			Name:        s.Name,
			Description: s.Description,
			Category:    s.Category,
			Strategies:  s.Strategies,
			Input:       s.Input,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
