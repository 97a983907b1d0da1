package authoring

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// writeTemp writes data to a hidden temp file next to path and returns its
// name. The file is synced and closed.
func writeTemp(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}

// writeAtomic writes data to path through a temp file and a rename, so
// readers never see a partial file. An existing file is replaced.
func writeAtomic(path string, data []byte) error {
	tmpName, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// writeExclusive is writeAtomic that fails with an error wrapping
// os.ErrExist when path already exists. The temp file is hard-linked into
// place, which unlike rename never replaces a target.
func writeExclusive(path string, data []byte) error {
	tmpName, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName)
	if err := os.Link(tmpName, path); err != nil {
		return fmt.Errorf("link %s: %w", path, err)
	}
	return nil
}

// persist writes the unit source and, when present, its documentation. The
// source never replaces an existing unit; callers retry with another name
// when the error wraps os.ErrExist. If the documentation cannot be written
// the source is removed again.
func persist(dir, name string, a Artifacts) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	srcPath := filepath.Join(dir, name+".go")
	if err := writeExclusive(srcPath, []byte(a.Source+"\n")); err != nil {
		return "", err
	}
	if a.Documentation != nil {
		if err := writeAtomic(filepath.Join(dir, name+".md"), []byte(*a.Documentation+"\n")); err != nil {
			os.Remove(srcPath)
			if errors.Is(err, os.ErrExist) {
				// A directory in the way is not a name collision.
				return "", fmt.Errorf("documentation: %v", err)
			}
			return "", err
		}
	}
	return srcPath, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
