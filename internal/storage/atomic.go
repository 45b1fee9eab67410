package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path so that readers observe either
// the old content or the new content, never a partial write. The temp
// file lives in the same directory as path so the final rename stays
// on one filesystem.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := WriteFileTemp(path, data, perm)
	if err != nil {
		return err
	}
	if err := ReplaceFile(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// WriteFileTemp writes data to a fresh temp file next to path and
// returns the temp path without renaming. Callers that need to verify
// the written bytes before committing (migration) read the temp file
// back and then call ReplaceFile; on failure they remove it.
func WriteFileTemp(path string, data []byte, perm os.FileMode) (string, error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".crmvault-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tmp, nil
}

// ReplaceFile atomically renames tmp over dst.
func ReplaceFile(tmp, dst string) error {
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(dst), err)
	}
	return nil
}
