package vm

import "sync"

// ---------------------------------------------------------------------------
// InternPool: canonical String objects by code-unit sequence
// ---------------------------------------------------------------------------

// InternPool maps a UTF-16 code-unit sequence to the one String object that
// represents it. Two equal sequences always intern to the same reference.
type InternPool struct {
	mu      sync.RWMutex
	strings map[string]*Object
}

// NewInternPool creates an empty pool.
func NewInternPool() *InternPool {
	return &InternPool{strings: make(map[string]*Object, 1024)}
}

// Intern returns the canonical object for units, calling create to build it
// when the sequence has not been seen yet.
func (p *InternPool) Intern(units []uint16, create func() *Object) *Object {
	key := unitsKey(units)

	// Fast path: read-only lookup
	p.mu.RLock()
	if o, ok := p.strings[key]; ok {
		p.mu.RUnlock()
		return o
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if o, ok := p.strings[key]; ok {
		return o
	}
	o := create()
	p.strings[key] = o
	return o
}

// Lookup returns the canonical object for units, if any.
func (p *InternPool) Lookup(units []uint16) (*Object, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.strings[unitsKey(units)]
	return o, ok
}

// Len returns the number of interned strings.
func (p *InternPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.strings)
}

func unitsKey(units []uint16) string {
	b := make([]byte, 2*len(units))
	for i, u := range units {
		b[2*i] = byte(u >> 8)
		b[2*i+1] = byte(u)
	}
	return string(b)
}
