package classpath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirEntry reads classes from a directory tree laid out by package.
type DirEntry struct {
	dir string
}

// NewDirEntry creates a directory entry. The directory need not exist yet.
func NewDirEntry(dir string) (*DirEntry, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("class path %s: %w", dir, err)
	}
	return &DirEntry{dir: abs}, nil
}

func (e *DirEntry) ReadClass(name string) ([]byte, Entry, error) {
	data, err := os.ReadFile(filepath.Join(e.dir, filepath.FromSlash(name)+".class"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
		}
		return nil, nil, err
	}
	return data, e, nil
}

// ClassNames walks the directory for .class files.
func (e *DirEntry) ClassNames() ([]string, error) {
	var names []string
	err := filepath.WalkDir(e.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".class") {
			return nil
		}
		rel, err := filepath.Rel(e.dir, path)
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(filepath.ToSlash(rel), ".class"))
		return nil
	})
	return names, err
}

func (e *DirEntry) String() string {
	return e.dir
}
