package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Prefs is the persistent key/value contract the token store relies on.
type Prefs interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// FilePrefs keeps preferences in a single YAML document. Writes replace the
// file atomically so a crash never leaves a half-written token behind.
type FilePrefs struct {
	mu   sync.Mutex
	path string
}

// NewFilePrefs returns prefs stored at path. The file is created on first Set.
func NewFilePrefs(path string) *FilePrefs {
	return &FilePrefs{path: path}
}

func (p *FilePrefs) Get(key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	values, err := p.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (p *FilePrefs) Set(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	values, err := p.load()
	if err != nil {
		return err
	}
	values[key] = value

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshaling prefs: %w", err)
	}
	return writeFileAtomic(p.path, data, 0o600)
}

func (p *FilePrefs) load() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing prefs %s: %w", p.path, err)
	}
	if values == nil {
		values = make(map[string]string)
	}
	return values, nil
}

// writeFileAtomic writes to a temporary sibling, syncs and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Personal.AI order the ending
