// Package classpath locates class file bytes by internal class name across
// directories, jar/zip archives, wildcard directories and in-memory tables.
package classpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("kopi.classpath")

// ErrClassNotFound is returned by ReadClass when no entry holds the class.
var ErrClassNotFound = errors.New("class not found")

// Entry is one component of a class path.
type Entry interface {
	// ReadClass returns the bytes of the named class ("java/lang/Object")
	// and the entry that actually supplied them. Composite entries return
	// the leaf entry so callers can report where a class came from.
	ReadClass(name string) ([]byte, Entry, error)

	// String returns the entry's path as given on the command line.
	String() string
}

// Lister is implemented by entries that can enumerate their classes.
type Lister interface {
	ClassNames() ([]string, error)
}

// ---------------------------------------------------------------------------
// Parsing path lists
// ---------------------------------------------------------------------------

// Options controls how path lists become entries.
type Options struct {
	// Index, when set, remembers archive contents between runs.
	Index Index
}

// Parse turns a platform path list into a composite entry. Elements ending
// in "*" are wildcard directories, elements ending in .jar or .zip are
// archives, everything else is a directory.
func Parse(pathList string, opts Options) (Entry, error) {
	var entries []Entry
	for _, elem := range filepath.SplitList(pathList) {
		if elem == "" {
			continue
		}
		e, err := NewEntry(elem, opts)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if len(entries) == 1 {
		return entries[0], nil
	}
	return &CompositeEntry{entries: entries}, nil
}

// NewEntry creates a single entry for path.
func NewEntry(path string, opts Options) (Entry, error) {
	switch {
	case path == "*" || strings.HasSuffix(path, string(filepath.Separator)+"*") || strings.HasSuffix(path, "/*"):
		return NewWildcardEntry(strings.TrimSuffix(path, "*"), opts)
	case isArchiveName(path):
		return NewArchiveEntry(path, opts)
	}
	return NewDirEntry(path)
}

func isArchiveName(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".jar") || strings.HasSuffix(lower, ".zip")
}

// ---------------------------------------------------------------------------
// ClassPath: boot, extension and user entries
// ---------------------------------------------------------------------------

// ClassPath is the search order used by the bootstrap loader: the JRE's
// lib/*, then lib/ext/*, then the user class path.
type ClassPath struct {
	JREDir string
	Boot   Entry
	Ext    Entry
	User   Entry
}

// New builds a ClassPath. jreOption is the -Xjre value and may be empty;
// userPath is the -cp value, defaulting to ".".
func New(jreOption, userPath string, opts Options) (*ClassPath, error) {
	cp := &ClassPath{}
	jre, err := FindJRE(jreOption)
	if err != nil {
		return nil, err
	}
	cp.JREDir = jre

	if cp.Boot, err = NewWildcardEntry(filepath.Join(jre, "lib"), opts); err != nil {
		return nil, fmt.Errorf("boot class path: %w", err)
	}
	extDir := filepath.Join(jre, "lib", "ext")
	if info, err := os.Stat(extDir); err == nil && info.IsDir() {
		if cp.Ext, err = NewWildcardEntry(extDir, opts); err != nil {
			return nil, fmt.Errorf("extension class path: %w", err)
		}
	}

	if userPath == "" {
		userPath = "."
	}
	if cp.User, err = Parse(userPath, opts); err != nil {
		return nil, fmt.Errorf("user class path: %w", err)
	}
	return cp, nil
}

// ReadClass searches boot, ext and user entries in order.
func (cp *ClassPath) ReadClass(name string) ([]byte, Entry, error) {
	for _, e := range []Entry{cp.Boot, cp.Ext, cp.User} {
		if e == nil {
			continue
		}
		data, from, err := e.ReadClass(name)
		if err == nil {
			return data, from, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, nil, err
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
}

// ReadBootClass searches only the JRE entries.
func (cp *ClassPath) ReadBootClass(name string) ([]byte, Entry, error) {
	for _, e := range []Entry{cp.Boot, cp.Ext} {
		if e == nil {
			continue
		}
		data, from, err := e.ReadClass(name)
		if err == nil || !errors.Is(err, ErrClassNotFound) {
			return data, from, err
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
}

func (cp *ClassPath) String() string {
	if cp.User == nil {
		return ""
	}
	return cp.User.String()
}

// FindJRE resolves the bootstrap class library directory: the explicit
// option, then ./jre, then $JAVA_HOME/jre.
func FindJRE(option string) (string, error) {
	if option != "" {
		if isDir(option) {
			return filepath.Abs(option)
		}
		return "", fmt.Errorf("-Xjre directory %s does not exist", option)
	}
	if isDir("jre") {
		return filepath.Abs("jre")
	}
	if home := os.Getenv("JAVA_HOME"); home != "" {
		jre := filepath.Join(home, "jre")
		if isDir(jre) {
			return jre, nil
		}
	}
	return "", errors.New("cannot locate the jre directory; use -Xjre or set JAVA_HOME")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
