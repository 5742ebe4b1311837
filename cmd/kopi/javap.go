package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chazu/kopi/classfile"
	"github.com/chazu/kopi/classpath"
)

// javap prints a class's header, fields and disassembled methods.
func javap(w io.Writer, cp classpath.Entry, className string) error {
	name := classfile.InternalName(className)
	data, from, err := cp.ReadClass(name)
	if err != nil {
		return fmt.Errorf("class not found: %s", className)
	}
	cf, err := classfile.Parse(data)
	if err != nil {
		return fmt.Errorf("%s (from %s): %w", className, from, err)
	}
	writeClass(w, cf)
	return nil
}

func writeClass(w io.Writer, cf *classfile.ClassFile) {
	if src := cf.SourceFile(); src != "" {
		fmt.Fprintf(w, "Compiled from %q\n", src)
	}
	kind := "class"
	flags := cf.AccessFlags &^ classfile.AccSuper
	if flags.IsInterface() {
		kind = "interface"
		flags &^= classfile.AccInterface | classfile.AccAbstract
	}
	header := modifiers(flags, true) + kind + " " +
		classfile.JavaName(cf.ClassName())
	if super := cf.SuperClassName(); super != "" && super != "java/lang/Object" {
		header += " extends " + classfile.JavaName(super)
	}
	if ifaces := cf.InterfaceNames(); len(ifaces) > 0 {
		names := make([]string, len(ifaces))
		for i, n := range ifaces {
			names[i] = classfile.JavaName(n)
		}
		header += " implements " + strings.Join(names, ", ")
	}
	fmt.Fprintf(w, "%s\n  minor version: %d\n  major version: %d\n{\n", header, cf.MinorVersion, cf.MajorVersion)

	for _, f := range cf.Fields {
		fmt.Fprintf(w, "  %s%s %s;\n", modifiers(f.AccessFlags, false), f.Descriptor, f.Name)
	}
	if len(cf.Fields) > 0 && len(cf.Methods) > 0 {
		fmt.Fprintln(w)
	}

	for i, m := range cf.Methods {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "  %s%s%s;\n", modifiers(m.AccessFlags, false), m.Name, m.Descriptor)
		code := m.Code()
		if code == nil {
			continue
		}
		fmt.Fprintf(w, "    Code:\n      stack=%d, locals=%d\n", code.MaxStack, code.MaxLocals)
		for _, line := range strings.Split(classfile.Disassemble(code.Code, cf.ConstantPool), "\n") {
			fmt.Fprintf(w, "      %s\n", line)
		}
		if len(code.ExceptionTable) > 0 {
			fmt.Fprintf(w, "    Exception table:\n       from    to  target type\n")
			for _, h := range code.ExceptionTable {
				catch := "any"
				if h.CatchType != 0 {
					if n, err := cf.ConstantPool.ClassName(h.CatchType); err == nil {
						catch = "Class " + n
					}
				}
				fmt.Fprintf(w, "      %5d %5d %5d   %s\n", h.StartPC, h.EndPC, h.HandlerPC, catch)
			}
		}
	}
	fmt.Fprintln(w, "}")
}

// modifiers renders access flags as javap keywords, each followed by a
// space.
func modifiers(f classfile.AccessFlags, class bool) string {
	var b strings.Builder
	add := func(on bool, word string) {
		if on {
			b.WriteString(word)
			b.WriteByte(' ')
		}
	}
	add(f.IsPublic(), "public")
	add(f.IsPrivate(), "private")
	add(f.IsProtected(), "protected")
	add(f.IsStatic(), "static")
	add(f.IsFinal(), "final")
	if !class {
		add(f.IsSynchronized(), "synchronized")
		add(f.IsNative(), "native")
	}
	add(f.IsAbstract(), "abstract")
	return b.String()
}
