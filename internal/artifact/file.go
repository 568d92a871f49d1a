package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps artifacts as files in a single directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a FileStore rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("artifact: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string { return s.dir }

// Put writes data to a temporary file and renames it into place so readers
// never see a partial artifact.
func (s *FileStore) Put(_ context.Context, name string, data []byte) (Artifact, error) {
	if !ValidName(name) {
		return Artifact{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Artifact{}, fmt.Errorf("artifact: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, fmt.Errorf("artifact: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return Artifact{}, fmt.Errorf("artifact: rename %s: %w", name, err)
	}
	return Artifact{Name: name, Size: int64(len(data))}, nil
}

// Open implements Store.
func (s *FileStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if !ValidName(name) {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: open %s: %w", name, err)
	}
	return f, nil
}

// Ping checks that the directory exists and is writable.
func (s *FileStore) Ping(_ context.Context) error {
	f, err := os.CreateTemp(s.dir, ".ping-*")
	if err != nil {
		return fmt.Errorf("artifact: dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
