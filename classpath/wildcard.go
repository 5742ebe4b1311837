package classpath

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// NewWildcardEntry expands "dir/*" into a composite of every jar and zip in
// dir, in name order. Archives are opened concurrently.
func NewWildcardEntry(dir string, opts Options) (*CompositeEntry, error) {
	if dir == "" {
		dir = "."
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &CompositeEntry{label: filepath.Join(dir, "*")}, nil
		}
		return nil, fmt.Errorf("class path %s*: %w", dir, err)
	}
	var paths []string
	for _, de := range ents {
		if !de.IsDir() && isArchiveName(de.Name()) {
			paths = append(paths, filepath.Join(dir, de.Name()))
		}
	}
	sort.Strings(paths)

	entries := make([]Entry, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			e, err := NewArchiveEntry(p, opts)
			if err != nil {
				return err
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Release the archives that did open; nil slots are skipped.
		(&CompositeEntry{entries: entries}).Close()
		return nil, err
	}
	log.Debugf("wildcard %s: %d archives", dir, len(entries))
	return &CompositeEntry{entries: entries, label: filepath.Join(dir, "*")}, nil
}
