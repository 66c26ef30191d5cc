package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Loader reads the settings file and caches the last good state, so a bad
// edit never strands the process without configuration.
type Loader struct {
	path string

	mu   sync.Mutex
	last atomic.Pointer[Settings]
}

// NewLoader wires a loader for path. YAML and JSON are both accepted, keyed
// off the file extension.
func NewLoader(path string) (*Loader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("settings: path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("settings: resolve path: %w", err)
	}
	return &Loader{path: abs}, nil
}

// Path returns the absolute settings file location.
func (l *Loader) Path() string { return l.path }

// Last returns the most recent valid settings.
func (l *Loader) Last() (*Settings, bool) {
	s := l.last.Load()
	if s == nil {
		return nil, false
	}
	return s, true
}

// Load parses and validates the file. A missing file yields defaults.
func (l *Loader) Load() (*Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.loadOnce()
	if err != nil {
		return nil, err
	}
	l.last.Store(s)
	return s, nil
}

// Reload refreshes settings, keeping the last good state on error.
func (l *Loader) Reload() (*Settings, error) {
	prev, _ := l.Last()
	s, err := l.Load()
	if err != nil {
		if prev != nil {
			return prev, fmt.Errorf("settings: reload failed, keeping last good state: %w", err)
		}
		return nil, err
	}
	return s, nil
}

func (l *Loader) loadOnce() (*Settings, error) {
	raw, err := os.ReadFile(l.path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		s := Default()
		s.Normalize()
		return s, nil
	default:
		return nil, fmt.Errorf("settings: read %s: %w", l.path, err)
	}

	s := Default()
	if err := decode(l.path, raw, s); err != nil {
		return nil, err
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func decode(path string, raw []byte, s *Settings) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(raw, s); err != nil {
			return fmt.Errorf("settings: parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, s); err != nil {
			return fmt.Errorf("settings: parse %s: %w", path, err)
		}
	}
	return nil
}
