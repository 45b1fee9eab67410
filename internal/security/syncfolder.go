// Package security confines sync-folder file access to the folder the
// user actually picked, using Go 1.24's os.Root API so symlinks and
// dot-dot components cannot escape it.
package security

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	ErrEmptyPath   = errors.New("empty path not allowed")
	ErrPathEscapes = errors.New("path escapes sync folder")
)

// Folder provides validated reads and writes inside one sync folder.
type Folder struct {
	root *os.Root
	path string
}

// OpenFolder opens the sync folder at the given path. The folder must
// already exist; this code never creates directories outside the app
// data dir.
func OpenFolder(path string) (*Folder, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync folder: %w", err)
	}

	return &Folder{root: root, path: absPath}, nil
}

// Close releases the folder handle.
func (f *Folder) Close() error {
	if f.root != nil {
		return f.root.Close()
	}
	return nil
}

// Path returns the absolute folder path.
func (f *Folder) Path() string {
	return f.path
}

// ReadFile reads a file inside the folder. The name must be a plain
// local path; anything absolute or escaping is rejected.
func (f *Folder) ReadFile(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	file, err := f.root.Open(filepath.FromSlash(name))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// WriteFile writes a file inside the folder.
func (f *Folder) WriteFile(name string, data []byte, perm os.FileMode) error {
	if err := validateName(name); err != nil {
		return err
	}
	file, err := f.root.OpenFile(filepath.FromSlash(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Stat stats a file inside the folder.
func (f *Folder) Stat(name string) (os.FileInfo, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return f.root.Stat(filepath.FromSlash(name))
}

func validateName(name string) error {
	if name == "" {
		return ErrEmptyPath
	}
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}
	return nil
}
