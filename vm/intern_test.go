package vm

import (
	"sync"
	"testing"
	"unicode/utf16"
)

func TestInternPool(t *testing.T) {
	p := NewInternPool()
	created := 0
	create := func() *Object { created++; return &Object{} }

	a := p.Intern([]uint16{'h', 'i'}, create)
	b := p.Intern([]uint16{'h', 'i'}, create)
	c := p.Intern([]uint16{'h', 'i', 0}, create)
	if a != b {
		t.Errorf("equal sequences interned to different objects")
	}
	if a == c {
		t.Errorf("a trailing NUL did not make a distinct entry")
	}
	if created != 2 || p.Len() != 2 {
		t.Errorf("created = %d, Len() = %d; want 2, 2", created, p.Len())
	}
	if o, ok := p.Lookup([]uint16{'h', 'i'}); !ok || o != a {
		t.Errorf("Lookup(hi) = %v, %v", o, ok)
	}
	if _, ok := p.Lookup([]uint16{'h'}); ok {
		t.Errorf("Lookup(h) found an entry")
	}
	// Units that differ only in the high byte are distinct keys.
	x := p.Intern([]uint16{0x0141}, create)
	y := p.Intern([]uint16{0x4101}, create)
	if x == y {
		t.Errorf("0x0141 and 0x4101 share an entry")
	}
}

func TestInternPoolConcurrent(t *testing.T) {
	p := NewInternPool()
	var wg sync.WaitGroup
	results := make([]*Object, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Intern([]uint16{'x'}, func() *Object { return &Object{} })
		}(i)
	}
	wg.Wait()
	for i, o := range results {
		if o != results[0] {
			t.Fatalf("goroutine %d got a different object", i)
		}
	}
}

func TestStringBridging(t *testing.T) {
	h := newHarness(t)
	tests := []string{"", "plain", "héllo", "日本語", "emoji 😀 pair"}
	for _, s := range tests {
		o := h.vm.NewString(s)
		if got := GoString(o); got != s {
			t.Errorf("GoString(NewString(%q)) = %q", s, got)
		}
		if got, want := len(StringUnits(o)), len(utf16.Encode([]rune(s))); got != want {
			t.Errorf("%q: %d code units, want %d", s, got, want)
		}
		if o == h.vm.NewString(s) {
			t.Errorf("NewString(%q) returned a shared object", s)
		}
		if h.vm.Intern(s) != h.vm.Intern(s) {
			t.Errorf("Intern(%q) is not canonical", s)
		}
		if h.vm.Intern(s) == o {
			t.Errorf("Intern(%q) returned a fresh NewString object", s)
		}
	}
	if got := len(StringUnits(h.vm.NewString("😀"))); got != 2 {
		t.Errorf("non-BMP rune = %d code units, want 2", got)
	}
	if GoString(nil) != "" {
		t.Errorf("GoString(nil) = %q", GoString(nil))
	}

	lone := h.vm.NewStringUnits([]uint16{'a', 0xd800})
	if got := GoString(lone); got != "a�" {
		t.Errorf("GoString(unpaired surrogate) = %q, want %q", got, "a�")
	}

	arr, err := h.vm.NewStringArray(h.thread(), []string{"x", "y"})
	if err != nil {
		t.Fatalf("NewStringArray() error = %v", err)
	}
	if arr.Class().Name() != "[Ljava/lang/String;" || GoString(arr.Refs()[1]) != "y" {
		t.Errorf("NewStringArray() = %s with %v", arr.Class().Name(), arr.Refs())
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	before := h.vm.Stats()
	h.define(newPlainClass("kopitest/Counted", objectClass))
	h.vm.Intern("counted")
	after := h.vm.Stats()
	if after.ClassesLoaded != before.ClassesLoaded+1 {
		t.Errorf("ClassesLoaded = %d, want %d", after.ClassesLoaded, before.ClassesLoaded+1)
	}
	if after.ClassBytes <= before.ClassBytes {
		t.Errorf("ClassBytes did not grow: %d -> %d", before.ClassBytes, after.ClassBytes)
	}
	if after.Interned != before.Interned+1 {
		t.Errorf("Interned = %d, want %d", after.Interned, before.Interned+1)
	}
}
