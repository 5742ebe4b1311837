package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/kopi/classfile"
)

// ---------------------------------------------------------------------------
// Java throwable class names raised by the runtime itself
// ---------------------------------------------------------------------------

const (
	ClassFormatError               = "java/lang/ClassFormatError"
	UnsupportedClassVersionError   = "java/lang/UnsupportedClassVersionError"
	NoClassDefFoundError           = "java/lang/NoClassDefFoundError"
	ClassCircularityError          = "java/lang/ClassCircularityError"
	IncompatibleClassChangeError   = "java/lang/IncompatibleClassChangeError"
	NoSuchFieldError               = "java/lang/NoSuchFieldError"
	NoSuchMethodError              = "java/lang/NoSuchMethodError"
	IllegalAccessError             = "java/lang/IllegalAccessError"
	AbstractMethodError            = "java/lang/AbstractMethodError"
	InstantiationError             = "java/lang/InstantiationError"
	UnsatisfiedLinkError           = "java/lang/UnsatisfiedLinkError"
	VerifyError                    = "java/lang/VerifyError"
	LinkageError                   = "java/lang/LinkageError"
	ExceptionInInitializerError    = "java/lang/ExceptionInInitializerError"
	InternalError                  = "java/lang/InternalError"
	StackOverflowError             = "java/lang/StackOverflowError"
	OutOfMemoryError               = "java/lang/OutOfMemoryError"
	NullPointerException           = "java/lang/NullPointerException"
	ArrayIndexOutOfBoundsException = "java/lang/ArrayIndexOutOfBoundsException"
	ArrayStoreException            = "java/lang/ArrayStoreException"
	ClassCastException             = "java/lang/ClassCastException"
	ArithmeticException            = "java/lang/ArithmeticException"
	NegativeArraySizeException     = "java/lang/NegativeArraySizeException"
	ClassNotFoundException         = "java/lang/ClassNotFoundException"
	CloneNotSupportedException     = "java/lang/CloneNotSupportedException"
	IllegalArgumentException       = "java/lang/IllegalArgumentException"
	InterruptedException           = "java/lang/InterruptedException"
	IOException                    = "java/io/IOException"
	FileNotFoundException          = "java/io/FileNotFoundException"
)

// ---------------------------------------------------------------------------
// Go-side error types
// ---------------------------------------------------------------------------

// VMError is a failure detected by the runtime that is visible to Java code
// as an instance of Class. The interpreter turns it into a thrown object.
type VMError struct {
	Class   string
	Message string
	Cause   error
}

func (e *VMError) Error() string {
	name := classfile.JavaName(e.Class)
	if e.Message == "" {
		return name
	}
	return name + ": " + e.Message
}

func (e *VMError) Unwrap() error {
	return e.Cause
}

func newVMError(class, format string, args ...any) *VMError {
	return &VMError{Class: class, Message: fmt.Sprintf(format, args...)}
}

// ThrowableError carries a Java throwable that escaped an embedded call
// back to Go code.
type ThrowableError struct {
	Object *Object
}

func (e *ThrowableError) Error() string {
	if e.Object == nil {
		return "java.lang.Throwable"
	}
	msg := throwableMessage(e.Object)
	if msg == "" {
		return e.Object.class.JavaName()
	}
	return e.Object.class.JavaName() + ": " + msg
}

// FatalError is a broken runtime invariant. It is raised by panicking and
// recovered only at the outermost run loop.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Message
}

func fatalf(format string, args ...any) {
	panic(&FatalError{Message: fmt.Sprintf(format, args...)})
}

// ExitError is raised when Java code halts the runtime with a status code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ErrNoMainMethod is returned by RunMain when the main class lacks
// public static void main(String[]).
var ErrNoMainMethod = errors.New("main method not found")

// IsJavaClass reports whether err is a VMError or escaped throwable of the
// named Java class.
func IsJavaClass(err error, class string) bool {
	var ve *VMError
	if errors.As(err, &ve) {
		return ve.Class == class
	}
	var te *ThrowableError
	if errors.As(err, &te) && te.Object != nil {
		return te.Object.class.name == class
	}
	return false
}
