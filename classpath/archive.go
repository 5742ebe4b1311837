package classpath

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"
)

// Index remembers the entry names of archives between runs so an archive
// that cannot hold a class is never opened. classcache.Cache implements it.
type Index interface {
	Lookup(path string, modTime time.Time, size int64) ([]string, bool)
	Store(path string, modTime time.Time, size int64, names []string) error
}

// ArchiveEntry reads classes from a jar or zip file.
type ArchiveEntry struct {
	path string

	mu    sync.Mutex
	rc    *zip.ReadCloser
	files map[string]*zip.File
	names map[string]struct{} // every entry name, from the index or the central directory
}

// NewArchiveEntry creates an archive entry. When opts.Index knows the
// archive (same size and modification time) the central directory is not
// read until a class is actually requested from it.
func NewArchiveEntry(path string, opts Options) (*ArchiveEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("class path %s: %w", path, err)
	}
	e := &ArchiveEntry{path: abs}

	info, err := os.Stat(abs)
	if err != nil {
		// A missing archive contributes nothing, as with a missing directory.
		log.Debugf("archive %s: %v", abs, err)
		e.names = map[string]struct{}{}
		return e, nil
	}

	if opts.Index != nil {
		if names, ok := opts.Index.Lookup(abs, info.ModTime(), info.Size()); ok {
			log.Debugf("archive index hit: %s (%d entries)", abs, len(names))
			e.setNames(names)
			return e, nil
		}
		log.Debugf("archive index miss: %s", abs)
	}

	if err := e.open(); err != nil {
		return nil, err
	}
	if opts.Index != nil {
		if err := opts.Index.Store(abs, info.ModTime(), info.Size(), e.entryNames()); err != nil {
			log.Warningf("archive index store %s: %v", abs, err)
		}
	}
	return e, nil
}

func (e *ArchiveEntry) setNames(names []string) {
	e.names = make(map[string]struct{}, len(names))
	for _, n := range names {
		e.names[n] = struct{}{}
	}
}

// open reads the central directory. Callers hold e.mu or own e exclusively.
func (e *ArchiveEntry) open() error {
	if e.rc != nil {
		return nil
	}
	rc, err := zip.OpenReader(e.path)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", e.path, err)
	}
	e.rc = rc
	e.files = make(map[string]*zip.File, len(rc.File))
	names := make([]string, 0, len(rc.File))
	for _, f := range rc.File {
		e.files[f.Name] = f
		names = append(names, f.Name)
	}
	e.setNames(names)
	return nil
}

func (e *ArchiveEntry) ReadClass(name string) ([]byte, Entry, error) {
	data, err := e.ReadFile(name + ".class")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
		}
		return nil, nil, err
	}
	return data, e, nil
}

// ReadFile returns the contents of one archive member, or an error
// satisfying os.IsNotExist.
func (e *ArchiveEntry) ReadFile(member string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.names != nil {
		if _, ok := e.names[member]; !ok {
			return nil, os.ErrNotExist
		}
	}
	if err := e.open(); err != nil {
		return nil, err
	}
	f, ok := e.files[member]
	if !ok {
		return nil, os.ErrNotExist
	}
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%s!%s: %w", e.path, member, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s!%s: %w", e.path, member, err)
	}
	return data, nil
}

// EntryNames returns every member name, sorted.
func (e *ArchiveEntry) EntryNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entryNames()
}

func (e *ArchiveEntry) entryNames() []string {
	names := make([]string, 0, len(e.names))
	for n := range e.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ClassNames returns the internal names of the archive's classes.
func (e *ArchiveEntry) ClassNames() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, n := range e.entryNames() {
		if strings.HasSuffix(n, ".class") {
			out = append(out, strings.TrimSuffix(n, ".class"))
		}
	}
	return out, nil
}

// Manifest returns the main attributes of META-INF/MANIFEST.MF.
func (e *ArchiveEntry) Manifest() (map[string]string, error) {
	data, err := e.ReadFile("META-INF/MANIFEST.MF")
	if err != nil {
		return nil, err
	}
	return ParseManifest(data), nil
}

// Close releases the archive file.
func (e *ArchiveEntry) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rc == nil {
		return nil
	}
	err := e.rc.Close()
	e.rc = nil
	e.files = nil
	return err
}

func (e *ArchiveEntry) String() string {
	return e.path
}

// ParseManifest reads the main section of a jar manifest. Continuation
// lines (starting with one space) are joined to the previous header.
func ParseManifest(data []byte) map[string]string {
	attrs := make(map[string]string)
	var last string
	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		if line == "" {
			break // end of main section
		}
		if strings.HasPrefix(line, " ") && last != "" {
			attrs[last] += line[1:]
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		last = strings.TrimSpace(k)
		attrs[last] = strings.TrimSpace(v)
	}
	return attrs
}
