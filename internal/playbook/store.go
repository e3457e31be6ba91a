package playbook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no playbook (or version) matches.
var ErrNotFound = errors.New("playbook: not found")

// Store holds playbook definitions by ID and version. Versions are
// immutable once added; updates register a new version.
type Store struct {
	mu       sync.RWMutex
	versions map[string][]*Playbook
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{versions: make(map[string][]*Playbook)}
}

// Add registers a playbook version after validation. Re-adding an
// existing (id, version) pair is rejected.
func (s *Store) Add(p *Playbook) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.versions[p.ID] {
		if existing.Version == p.Version {
			return fmt.Errorf("playbook %s: version %d already exists", p.ID, p.Version)
		}
	}

	s.versions[p.ID] = append(s.versions[p.ID], p)
	sort.Slice(s.versions[p.ID], func(i, j int) bool {
		return s.versions[p.ID][i].Version < s.versions[p.ID][j].Version
	})
	return nil
}

// Get returns the latest version of a playbook.
func (s *Store) Get(id string) (*Playbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.versions[id]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[len(list)-1], nil
}

// GetVersion returns a specific version of a playbook.
func (s *Store) GetVersion(id string, version int) (*Playbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.versions[id] {
		if p.Version == version {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

// IDs returns all playbook IDs in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.versions))
	for id := range s.versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadDir loads every .yaml/.yml playbook definition in a directory.
// Returns the number of playbooks loaded.
func (s *Store) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("playbook: read dir %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("playbook: read %s: %w", path, err)
		}

		var p Playbook
		if err := yaml.Unmarshal(data, &p); err != nil {
			return loaded, fmt.Errorf("playbook: parse %s: %w", path, err)
		}
		if p.Version == 0 {
			p.Version = 1
		}
		if err := s.Add(&p); err != nil {
			return loaded, fmt.Errorf("playbook: load %s: %w", path, err)
		}
		loaded++
	}
	return loaded, nil
}
