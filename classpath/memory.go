package classpath

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryEntry serves classes from an in-process table. Embedders and tests
// use it to run classes assembled with the classfile builders.
type MemoryEntry struct {
	name    string
	mu      sync.RWMutex
	classes map[string][]byte
}

// NewMemoryEntry creates an empty table; name is used in -verbose:class
// output.
func NewMemoryEntry(name string) *MemoryEntry {
	return &MemoryEntry{name: name, classes: make(map[string][]byte)}
}

// Add registers class bytes under an internal name.
func (m *MemoryEntry) Add(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[name] = data
}

func (m *MemoryEntry) ReadClass(name string) ([]byte, Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.classes[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return data, m, nil
}

func (m *MemoryEntry) ClassNames() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.classes))
	for n := range m.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryEntry) String() string {
	return m.name
}
