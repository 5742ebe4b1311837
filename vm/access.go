package vm

import "github.com/chazu/kopi/classfile"

// samePackage reports whether two classes share a run-time package: the
// same defining loader and the same package name.
func samePackage(a, b *Class) bool {
	return a.loader == b.loader && a.PackageName() == b.PackageName()
}

func elementClass(c *Class) *Class {
	for c.IsArray() {
		c = c.component
	}
	return c
}

// classAccessible reports whether code in from may refer to class to.
func classAccessible(from, to *Class) bool {
	to = elementClass(to)
	if to.IsPrimitive() || to.IsPublic() {
		return true
	}
	return samePackage(from, to)
}

// memberAccessible applies the public, private, protected and package rules
// for a member declared in decl with the given flags.
func memberAccessible(from, decl *Class, flags classfile.AccessFlags) bool {
	switch {
	case flags.IsPublic():
		return true
	case flags.IsPrivate():
		return from == decl
	case flags.IsProtected():
		return from == decl || samePackage(from, decl) || from.IsSubclassOf(decl)
	}
	return samePackage(from, decl)
}

// protectedReceiverOK enforces the extra rule for protected instance members
// reached from a subclass in another package: the receiver must be an
// instance of the accessing class.
func protectedReceiverOK(from, decl *Class, flags classfile.AccessFlags, receiver *Object) bool {
	if !flags.IsProtected() || samePackage(from, decl) || !from.IsSubclassOf(decl) {
		return true
	}
	if receiver == nil || receiver.class.IsArray() {
		return true
	}
	rc := receiver.class
	return rc == from || rc.IsSubclassOf(from)
}
