package classfile

import (
	"errors"
	"testing"
)

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc     string
		params   []string
		ret      string
		argSlots int
	}{
		{"()V", nil, "V", 0},
		{"(I)I", []string{"I"}, "I", 1},
		{"(JD)J", []string{"J", "D"}, "J", 4},
		{"(Ljava/lang/String;[I[[Ljava/lang/Object;Z)Ljava/lang/Object;",
			[]string{"Ljava/lang/String;", "[I", "[[Ljava/lang/Object;", "Z"}, "Ljava/lang/Object;", 4},
	}
	for _, tt := range tests {
		md, err := ParseMethodDescriptor(tt.desc)
		if err != nil {
			t.Errorf("%s: %v", tt.desc, err)
			continue
		}
		if len(md.Params) != len(tt.params) {
			t.Errorf("%s: Params = %v, want %v", tt.desc, md.Params, tt.params)
			continue
		}
		for i := range md.Params {
			if md.Params[i] != tt.params[i] {
				t.Errorf("%s: Params[%d] = %q, want %q", tt.desc, i, md.Params[i], tt.params[i])
			}
		}
		if md.Return != tt.ret {
			t.Errorf("%s: Return = %q, want %q", tt.desc, md.Return, tt.ret)
		}
		if md.ArgSlots() != tt.argSlots {
			t.Errorf("%s: ArgSlots = %d, want %d", tt.desc, md.ArgSlots(), tt.argSlots)
		}
	}
}

func TestParseMethodDescriptorErrors(t *testing.T) {
	for _, desc := range []string{"", "V", "(I", "(Q)V", "(Ljava/lang/String)V", "()", "()II"} {
		if _, err := ParseMethodDescriptor(desc); !errors.Is(err, ErrBadDescriptor) {
			t.Errorf("ParseMethodDescriptor(%q) err = %v, want ErrBadDescriptor", desc, err)
		}
	}
}

func TestArgSlotCountReceiver(t *testing.T) {
	n, err := ArgSlotCount("(JI)V", false)
	if err != nil || n != 4 {
		t.Errorf("ArgSlotCount instance = %d, %v, want 4", n, err)
	}
	n, _ = ArgSlotCount("(JI)V", true)
	if n != 3 {
		t.Errorf("ArgSlotCount static = %d, want 3", n)
	}
}

func TestClassNameConversions(t *testing.T) {
	tests := []struct{ desc, name string }{
		{"Ljava/lang/String;", "java/lang/String"},
		{"[I", "[I"},
		{"I", "int"},
		{"Z", "boolean"},
	}
	for _, tt := range tests {
		if got := ClassNameOf(tt.desc); got != tt.name {
			t.Errorf("ClassNameOf(%q) = %q, want %q", tt.desc, got, tt.name)
		}
		if got := DescriptorOf(tt.name); got != tt.desc {
			t.Errorf("DescriptorOf(%q) = %q, want %q", tt.name, got, tt.desc)
		}
	}
	if PackageName("java/lang/String") != "java/lang" {
		t.Errorf("PackageName = %q", PackageName("java/lang/String"))
	}
	if PackageName("[[Ljava/util/List;") != "java/util" {
		t.Errorf("array PackageName = %q", PackageName("[[Ljava/util/List;"))
	}
	if PackageName("Main") != "" {
		t.Errorf("unnamed PackageName = %q", PackageName("Main"))
	}
	if JavaName("a/b/C") != "a.b.C" || InternalName("a.b.C") != "a/b/C" {
		t.Errorf("dotted conversion mismatch")
	}
}
