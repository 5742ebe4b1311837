package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/chazu/kopi/classfile"
	"github.com/chazu/kopi/classpath"
)

// DefaultMaxStackDepth bounds a thread's frame stack unless Options says
// otherwise.
const DefaultMaxStackDepth = 1024

// Options configures a VM.
type Options struct {
	// ClassPath is searched by the bootstrap loader. When no system class
	// loader is used it must include the user class path too.
	ClassPath classpath.Entry

	// UserClassPath and JavaHome are reported as java.class.path and
	// java.home.
	UserClassPath string
	JavaHome      string

	MaxStackDepth int

	// VerboseClass prints "[Loaded <class> from <source>]" per class.
	VerboseClass bool

	// SystemLoader loads the main class through
	// ClassLoader.getSystemClassLoader() once Start has run.
	SystemLoader bool

	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	// Properties are added to, and override, the built-in system
	// properties.
	Properties map[string]string
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM is one runtime instance: a bootstrap loader, the intern pool and the
// threads executing bytecode.
type VM struct {
	opts     Options
	boot     *BootLoader
	interned *InternPool

	mainThread *Thread
	threads    sync.Map // goroutine ID -> *Thread
	running    sync.WaitGroup

	objectClass    *Class
	classClass     *Class
	stringClass    *Class
	charArrayClass *Class

	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	classesLoaded atomic.Int64
	classBytes    atomic.Int64

	started      bool
	systemLoader *Object
	memory       *nativeMemory

	threadErrMu sync.Mutex
	threadErr   error
}

// New creates a VM and loads java/lang/Object, java/lang/Class and
// java/lang/String through the bootstrap loader. The calling goroutine
// becomes the main thread.
func New(opts Options) (*VM, error) {
	if opts.ClassPath == nil {
		return nil, errors.New("vm: no class path")
	}
	if opts.MaxStackDepth <= 0 {
		opts.MaxStackDepth = DefaultMaxStackDepth
	}
	vm := &VM{
		opts:     opts,
		interned: NewInternPool(),
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
		stdin:    opts.Stdin,
		memory:   newNativeMemory(),
	}
	if vm.stdout == nil {
		vm.stdout = os.Stdout
	}
	if vm.stderr == nil {
		vm.stderr = os.Stderr
	}
	if vm.stdin == nil {
		vm.stdin = os.Stdin
	}
	vm.boot = newBootLoader(vm, opts.ClassPath)
	vm.mainThread = vm.newThread("main")
	vm.mainThread.alive.Store(true)
	vm.AttachThread(vm.mainThread)

	t := vm.mainThread
	var err error
	if vm.objectClass, err = vm.boot.FindOrCreate(t, "java/lang/Object"); err != nil {
		return nil, fmt.Errorf("vm: bootstrap: %w", err)
	}
	if vm.classClass, err = vm.boot.FindOrCreate(t, "java/lang/Class"); err != nil {
		return nil, fmt.Errorf("vm: bootstrap: %w", err)
	}
	if err := vm.ensureStringClasses(t); err != nil {
		return nil, fmt.Errorf("vm: bootstrap: %w", err)
	}
	return vm, nil
}

// ensureStringClasses loads java/lang/String and char[], which string
// literals need before any of them can be created.
func (vm *VM) ensureStringClasses(t *Thread) error {
	if vm.charArrayClass == nil {
		c, err := vm.boot.FindOrCreate(t, "[C")
		if err != nil {
			return err
		}
		vm.charArrayClass = c
	}
	if vm.stringClass == nil {
		c, err := vm.boot.FindOrCreate(t, "java/lang/String")
		if err != nil {
			return err
		}
		vm.stringClass = c
	}
	return nil
}

func (vm *VM) BootLoader() *BootLoader { return vm.boot }
func (vm *VM) MainThread() *Thread     { return vm.mainThread }
func (vm *VM) Options() Options        { return vm.opts }

// Stats reports how much class data the VM has defined.
type Stats struct {
	ClassesLoaded int64
	ClassBytes    int64
	Interned      int
}

func (vm *VM) Stats() Stats {
	return Stats{
		ClassesLoaded: vm.classesLoaded.Load(),
		ClassBytes:    vm.classBytes.Load(),
		Interned:      vm.interned.Len(),
	}
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

// Start runs the class library's bootstrap: it creates the main thread's
// ThreadGroup and Thread objects, initializes java/lang/System and, when
// configured, obtains the system class loader. Classes the library lacks
// are skipped, so a minimal library still starts.
func (vm *VM) Start() (err error) {
	if vm.started {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = recoverError(r)
		}
	}()
	t := vm.mainThread

	if err := vm.createMainThreadObject(t); err != nil {
		return fmt.Errorf("vm: main thread: %w", err)
	}

	if system, ok, err := vm.optionalBootClass(t, "java/lang/System"); err != nil {
		return err
	} else if ok {
		if err := t.InitializeClass(system); err != nil {
			return fmt.Errorf("vm: initialize java.lang.System: %w", err)
		}
		if m := system.FindMethod("initializeSystemClass", "()V"); m != nil && m.IsStatic() {
			if _, err := t.Invoke(m); err != nil {
				return fmt.Errorf("vm: initializeSystemClass: %w", err)
			}
		}
	}

	if vm.opts.SystemLoader {
		cl, ok, err := vm.optionalBootClass(t, "java/lang/ClassLoader")
		if err != nil {
			return err
		}
		if ok && cl.FindMethod("getSystemClassLoader", "()Ljava/lang/ClassLoader;") != nil {
			ret, err := t.InvokeStatic(cl, "getSystemClassLoader", "()Ljava/lang/ClassLoader;")
			if err != nil {
				return fmt.Errorf("vm: system class loader: %w", err)
			}
			vm.systemLoader = ret[0].Ref()
		}
	}
	vm.started = true
	return nil
}

// optionalBootClass loads a class the bootstrap may do without. A missing
// class reports ok == false; any other failure is returned.
func (vm *VM) optionalBootClass(t *Thread, name string) (*Class, bool, error) {
	c, err := vm.boot.FindOrCreate(t, name)
	if err != nil {
		var ve *VMError
		if errors.As(err, &ve) && ve.Class == NoClassDefFoundError && ve.Cause == nil {
			loaderLog.Debugf("bootstrap: %s not available", name)
			return nil, false, nil
		}
		return nil, false, err
	}
	return c, true, nil
}

// createMainThreadObject builds the "system" and "main" thread groups and
// the java/lang/Thread object for the main thread. The Thread object is
// bound before its constructor runs, since the constructor asks for the
// current thread.
func (vm *VM) createMainThreadObject(t *Thread) error {
	groupClass, ok, err := vm.optionalBootClass(t, "java/lang/ThreadGroup")
	if err != nil || !ok {
		return err
	}
	threadClass, ok, err := vm.optionalBootClass(t, "java/lang/Thread")
	if err != nil || !ok {
		return err
	}
	if err := t.InitializeClass(groupClass); err != nil {
		return err
	}
	if err := t.InitializeClass(threadClass); err != nil {
		return err
	}

	system := newObject(groupClass)
	if ctor := groupClass.FindMethod("<init>", "()V"); ctor != nil {
		if _, err := t.Invoke(ctor, RefSlot(system)); err != nil {
			return err
		}
	}
	group := system
	if ctor := groupClass.FindMethod("<init>", "(Ljava/lang/ThreadGroup;Ljava/lang/String;)V"); ctor != nil {
		group = newObject(groupClass)
		if _, err := t.Invoke(ctor, RefSlot(group), RefSlot(system), RefSlot(vm.NewString("main"))); err != nil {
			return err
		}
	}

	thread := newObject(threadClass)
	thread.extra = t
	if thread.HasField("priority", "I") {
		thread.SetIntField("priority", "I", 5)
	}
	t.mirror = thread
	if ctor := threadClass.FindMethod("<init>", "(Ljava/lang/ThreadGroup;Ljava/lang/String;)V"); ctor != nil {
		if _, err := t.Invoke(ctor, RefSlot(thread), RefSlot(group), RefSlot(vm.NewString("main"))); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Running a program
// ---------------------------------------------------------------------------

// RunMain loads className, calls its public static void main(String[]) on
// the main thread and waits for threads the program started. An uncaught
// exception is printed to stderr and returned as *ThrowableError; a broken
// runtime invariant is returned as *FatalError; Shutdown.halt0 as
// *ExitError.
func (vm *VM) RunMain(className string, args []string) (err error) {
	t := vm.mainThread
	defer func() {
		if r := recover(); r != nil {
			err = recoverError(r)
		}
	}()

	name := classfile.InternalName(className)
	var l Loader = vm.boot
	if vm.systemLoader != nil {
		l = vm.UserLoaderFor(vm.systemLoader)
	}
	c, err := l.LoadClass(t, name)
	if err != nil {
		return fmt.Errorf("could not find or load main class %s: %w", className, err)
	}
	main := c.FindMethod("main", "([Ljava/lang/String;)V")
	if main == nil || !main.IsStatic() || !main.IsPublic() {
		return fmt.Errorf("%w in class %s, please define the main method as:\n   public static void main(String[] args)",
			ErrNoMainMethod, className)
	}
	argv, err := vm.NewStringArray(t, args)
	if err != nil {
		return err
	}
	if err := t.InitializeClass(c); err != nil {
		return vm.reportUncaught(t, err)
	}
	if _, err := t.Invoke(main, RefSlot(argv)); err != nil {
		return vm.reportUncaught(t, err)
	}
	vm.running.Wait()
	vm.threadErrMu.Lock()
	defer vm.threadErrMu.Unlock()
	return vm.threadErr
}

// reportUncaught prints an escaped throwable the way the launcher does and
// returns err unchanged.
func (vm *VM) reportUncaught(t *Thread, err error) error {
	var te *ThrowableError
	if errors.As(err, &te) {
		fmt.Fprintf(vm.stderr, "Exception in thread %q ", t.name)
		PrintStackTrace(vm.stderr, te.Object)
		return err
	}
	fmt.Fprintf(vm.stderr, "Exception in thread %q %v\n", t.name, err)
	return err
}

// recordThreadPanic keeps the first fatal condition raised on a thread
// other than main so RunMain can return it.
func (vm *VM) recordThreadPanic(t *Thread, r any) {
	err := recoverError(r)
	interpLog.Errorf("thread %s: %v", t.name, err)
	vm.threadErrMu.Lock()
	defer vm.threadErrMu.Unlock()
	if vm.threadErr == nil {
		vm.threadErr = err
	}
}

// recoverError converts a recovered panic into the error RunMain reports.
func recoverError(r any) error {
	switch e := r.(type) {
	case *FatalError:
		return e
	case *ExitError:
		return e
	case error:
		return &FatalError{Message: e.Error()}
	}
	return &FatalError{Message: fmt.Sprint(r)}
}

// ---------------------------------------------------------------------------
// System properties
// ---------------------------------------------------------------------------

// systemProperties returns key/value pairs for System.initProperties,
// built-ins first, then Options.Properties in key order.
func (vm *VM) systemProperties() [][2]string {
	wd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	userName := ""
	if u, err := user.Current(); err == nil {
		userName = u.Username
	}
	props := [][2]string{
		{"java.version", "1.8.0"},
		{"java.vendor", "kopi"},
		{"java.specification.version", "1.8"},
		{"java.class.version", "52.0"},
		{"java.vm.name", "kopi"},
		{"java.home", vm.opts.JavaHome},
		{"java.class.path", vm.opts.UserClassPath},
		{"file.separator", string(filepath.Separator)},
		{"path.separator", string(os.PathListSeparator)},
		{"line.separator", "\n"},
		{"file.encoding", "UTF-8"},
		{"sun.jnu.encoding", "UTF-8"},
		{"user.dir", wd},
		{"user.home", home},
		{"user.name", userName},
		{"os.name", osName()},
		{"os.arch", runtime.GOARCH},
	}
	keys := make([]string, 0, len(vm.opts.Properties))
	for k := range vm.opts.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		props = append(props, [2]string{k, vm.opts.Properties[k]})
	}
	return props
}

func osName() string {
	switch runtime.GOOS {
	case "linux":
		return "Linux"
	case "darwin":
		return "Mac OS X"
	case "windows":
		return "Windows"
	}
	return runtime.GOOS
}
