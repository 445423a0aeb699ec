package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File stores each name as <dir>/<name>.json. Writes go to a temp file that
// is renamed into place, so a crash never leaves a torn file.
type File struct {
	dir string
}

// NewFile creates dir if needed and returns a store rooted there.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(name string) string {
	return filepath.Join(f.dir, name+".json")
}

func (f *File) Load(_ context.Context, name string, v any) (bool, error) {
	data, err := os.ReadFile(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", name, err)
	}
	return decode(data, v)
}

func (f *File) Save(_ context.Context, name string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmpName, f.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, name string) error {
	err := os.Remove(f.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}
