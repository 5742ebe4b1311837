package classpath

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// CompositeEntry searches a list of entries in order.
type CompositeEntry struct {
	entries []Entry
	label   string
}

// NewCompositeEntry groups entries.
func NewCompositeEntry(entries ...Entry) *CompositeEntry {
	return &CompositeEntry{entries: entries}
}

// Entries returns the member entries.
func (c *CompositeEntry) Entries() []Entry {
	return c.entries
}

func (c *CompositeEntry) ReadClass(name string) ([]byte, Entry, error) {
	for _, e := range c.entries {
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

// ClassNames concatenates the names of every listable member.
func (c *CompositeEntry) ClassNames() ([]string, error) {
	var out []string
	for _, e := range c.entries {
		if l, ok := e.(Lister); ok {
			names, err := l.ClassNames()
			if err != nil {
				return nil, err
			}
			out = append(out, names...)
		}
	}
	return out, nil
}

// Close closes every archive member.
func (c *CompositeEntry) Close() error {
	var errs []error
	for _, e := range c.entries {
		switch e := e.(type) {
		case *ArchiveEntry:
			errs = append(errs, e.Close())
		case *CompositeEntry:
			errs = append(errs, e.Close())
		}
	}
	return errors.Join(errs...)
}

func (c *CompositeEntry) String() string {
	if c.label != "" {
		return c.label
	}
	parts := make([]string, len(c.entries))
	for i, e := range c.entries {
		parts[i] = e.String()
	}
	return strings.Join(parts, string(filepath.ListSeparator))
}
