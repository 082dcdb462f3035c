// Package uiprefs persists global UI preferences (theme, last route, last
// repository) in a YAML file. The sync engines never read it.
package uiprefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/repodeck/internal/domain"
	"github.com/Strob0t/repodeck/internal/domain/workcopy"
)

// Themes accepted by Update.
var Themes = []string{"system", "light", "dark"}

// Preferences is the persisted document.
type Preferences struct {
	Theme          string               `yaml:"theme" json:"theme"`
	LastRoute      string               `yaml:"last_route" json:"last_route"`
	LastRepository *workcopy.Repository `yaml:"last_repository,omitempty" json:"last_repository,omitempty"`
}

// Store holds the preferences in memory and writes them back on Save and Close.
type Store struct {
	path string

	mu    sync.RWMutex
	prefs Preferences
	dirty bool
}

// Load reads path. A missing file yields defaults.
func Load(path string) (*Store, error) {
	s := &Store{path: path, prefs: Preferences{Theme: "system", LastRoute: "/"}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.prefs); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	if !slices.Contains(Themes, s.prefs.Theme) {
		s.prefs.Theme = "system"
	}
	return s, nil
}

// Get returns a copy of the current preferences.
func (s *Store) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePrefs(s.prefs)
}

// Update replaces the preferences after validation. A nil LastRepository
// keeps the remembered one. It does not write to disk.
func (s *Store) Update(p Preferences) (Preferences, error) {
	if p.Theme == "" {
		p.Theme = "system"
	}
	if !slices.Contains(Themes, p.Theme) {
		return Preferences{}, fmt.Errorf("%w: theme must be one of %v", domain.ErrValidation, Themes)
	}
	if p.LastRoute == "" {
		p.LastRoute = "/"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p.LastRepository == nil {
		p.LastRepository = s.prefs.LastRepository
	}
	s.prefs = clonePrefs(p)
	s.dirty = true
	return clonePrefs(s.prefs), nil
}

// RememberRepository records repo as the last opened repository.
func (s *Store) RememberRepository(repo workcopy.Repository) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.LastRepository = &repo
	s.dirty = true
}

// Save writes the preferences atomically when they changed.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	data, err := yaml.Marshal(s.prefs)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace preferences: %w", err)
	}
	s.dirty = false
	return nil
}

// Close flushes pending changes.
func (s *Store) Close() error {
	return s.Save()
}

func clonePrefs(p Preferences) Preferences {
	if p.LastRepository != nil {
		r := *p.LastRepository
		p.LastRepository = &r
	}
	return p
}
