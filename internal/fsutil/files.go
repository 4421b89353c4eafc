package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Files performs retried file operations under one policy.
type Files struct {
	Retry RetryPolicy
}

// Read returns the content and modification time (Unix ms) of path.
// A missing file yields an error matching fs.ErrNotExist.
func (f Files) Read(path string) (data []byte, modMs int64, err error) {
	err = f.Retry.Do("read", path, func() error {
		fh, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		defer fh.Close()

		info, statErr := fh.Stat()
		if statErr != nil {
			return statErr
		}
		buf, readErr := io.ReadAll(fh)
		if readErr != nil {
			return readErr
		}
		data = buf
		modMs = info.ModTime().UnixMilli()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return data, modMs, nil
}

// Stat returns the modification time (Unix ms) of path.
func (f Files) Stat(path string) (modMs int64, err error) {
	err = f.Retry.Do("stat", path, func() error {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return statErr
		}
		modMs = info.ModTime().UnixMilli()
		return nil
	})
	return modMs, err
}

// WriteAtomic replaces path with data and stamps it with modMs.
//
// The content goes to a temporary file in the same directory, which gets
// its modification time set before being renamed over path. Readers see
// either the old file or the complete new one, never a partial write or
// a new file carrying a stale timestamp.
func (f Files) WriteAtomic(path string, data []byte, modMs int64) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	return f.Retry.Do("write", path, func() error {
		tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
		if err != nil {
			return err
		}
		tmpName := tmp.Name()
		committed := false
		defer func() {
			if !committed {
				os.Remove(tmpName)
			}
		}()

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		mod := time.UnixMilli(modMs)
		if err := os.Chtimes(tmpName, mod, mod); err != nil {
			return err
		}
		if err := os.Rename(tmpName, path); err != nil {
			return err
		}
		committed = true
		return nil
	})
}

// Touch sets the modification time of an existing file.
func (f Files) Touch(path string, modMs int64) error {
	mod := time.UnixMilli(modMs)
	return f.Retry.Do("touch", path, func() error {
		return os.Chtimes(path, mod, mod)
	})
}

// Remove deletes path. A missing file is not an error.
func (f Files) Remove(path string) error {
	return f.Retry.Do("remove", path, func() error {
		err := os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	})
}

// List returns the regular, non-temporary file names in dir, sorted.
// A missing directory yields an empty list.
func (f Files) List(dir string) ([]string, error) {
	var names []string
	err := f.Retry.Do("list", dir, func() error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		names = names[:0]
		for _, e := range entries {
			if e.IsDir() || IsTemp(e.Name()) {
				continue
			}
			names = append(names, e.Name())
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// IsTemp reports whether name is an in-flight temporary file.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, ".tmp-")
}
