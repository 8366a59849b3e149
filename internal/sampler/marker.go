package sampler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Marker records the running session so it can resume after a restart.
type Marker struct {
	AssignmentID string    `json:"assignment_id"`
	StartedAt    time.Time `json:"started_at"`
	// Owner identifies the sampler that last started the session.
	Owner string `json:"owner,omitempty"`
}

// MarkerStore persists the session marker. Load returns nil when none exists.
type MarkerStore interface {
	Load() (*Marker, error)
	Save(m Marker) error
	Clear() error
}

const markerFile = "session.json"

// FileMarkerStore keeps the marker as a JSON file replaced atomically.
type FileMarkerStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileMarkerStore creates the state directory if needed.
func NewFileMarkerStore(dir string) (*FileMarkerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileMarkerStore{dir: dir}, nil
}

// Path is the marker file location.
func (f *FileMarkerStore) Path() string {
	return filepath.Join(f.dir, markerFile)
}

func (f *FileMarkerStore) Load() (*Marker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode marker %s: %w", f.Path(), err)
	}
	if m.AssignmentID == "" {
		return nil, nil
	}
	return &m, nil
}

func (f *FileMarkerStore) Save(m Marker) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, markerFile+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), f.Path()); err != nil {
		return err
	}
	return syncDir(f.dir)
}

func (f *FileMarkerStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return syncDir(f.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse to fsync directories; the rename already happened.
	_ = d.Sync()
	return nil
}
