// Package presets keeps saved system roles and the preferred temperature in a
// small JSON file on the client machine.
package presets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	DefaultTemperature = 30
	fileName           = "presets.json"
)

var ErrNotFound = errors.New("presets: preset not found")

// System is a named system role.
type System struct {
	Name     string `json:"name,omitempty"`
	Settings string `json:"settings"`
}

type document struct {
	Systems []System `json:"systems"`
	Temp    *int     `json:"temp,omitempty"`
}

// Store reads and writes one presets file. Every call re-reads the file so
// concurrent CLI sessions see each other's changes.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("presets: path must not be empty")
	}
	return &Store{path: path}, nil
}

// DefaultPath returns presets.json under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("presets: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "chat-relay", fileName), nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) List() ([]System, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Systems, nil
}

// Find returns the preset called name.
func (s *Store) Find(name string) (System, error) {
	systems, err := s.List()
	if err != nil {
		return System{}, err
	}
	for _, sys := range systems {
		if sys.Name == name {
			return sys, nil
		}
	}
	return System{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Save stores sys, replacing an existing preset with the same name.
func (s *Store) Save(sys System) error {
	if strings.TrimSpace(sys.Name) == "" || strings.TrimSpace(sys.Settings) == "" {
		return errors.New("presets: name and settings must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range doc.Systems {
		if doc.Systems[i].Name == sys.Name {
			doc.Systems[i] = sys
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Systems = append(doc.Systems, sys)
	}
	return s.store(doc)
}

// Delete removes every preset whose settings equal settings. It reports
// whether anything was removed.
func (s *Store) Delete(settings string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return false, err
	}
	kept := doc.Systems[:0]
	for _, sys := range doc.Systems {
		if sys.Settings != settings {
			kept = append(kept, sys)
		}
	}
	if len(kept) == len(doc.Systems) {
		return false, nil
	}
	doc.Systems = kept
	return true, s.store(doc)
}

// Temperature returns the saved percentage, or DefaultTemperature.
func (s *Store) Temperature() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	if doc.Temp == nil {
		return DefaultTemperature, nil
	}
	return *doc.Temp, nil
}

func (s *Store) SetTemperature(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("presets: temperature %d outside [0,100]", pct)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Temp = &pct
	return s.store(doc)
}

func (s *Store) load() (document, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return document{}, fmt.Errorf("presets: read %s: %w", s.path, err)
	}
	var doc document
	if len(strings.TrimSpace(string(raw))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{}, fmt.Errorf("presets: decode %s: %w", s.path, err)
	}
	return doc, nil
}

// store writes doc to a temp file in the same directory and renames it over
// the target.
func (s *Store) store(doc document) error {
	if doc.Systems == nil {
		doc.Systems = []System{}
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("presets: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("presets: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("presets: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("presets: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("presets: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("presets: replace %s: %w", s.path, err)
	}
	return nil
}
