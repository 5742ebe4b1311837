// Kopi CLI - runs a Java main class on the kopi runtime
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/kopi/classcache"
	"github.com/chazu/kopi/classpath"
	"github.com/chazu/kopi/config"
	"github.com/chazu/kopi/vm"
)

// Process exit codes.
const (
	exitOK        = 0
	exitUncaught  = 1
	exitInvariant = 101
)

var log = commonlog.GetLogger("kopi.cli")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options is the parsed command line.
type options struct {
	classPath    string
	jre          string
	jar          string
	javap        string
	verbose      bool
	verboseClass bool
	logLevel     int
	logFile      string
	noCache      bool
	properties   map[string]string

	mainClass string
	args      []string
}

// valueFlags take their value from the next argument.
var valueFlags = map[string]bool{
	"-cp": true, "-classpath": true, "-jar": true, "-javap": true,
	"-log-level": true, "-log-file": true,
}

// normalizeArgs rewrites the launcher's colon forms (-verbose:class,
// -Xjre:<dir>) into flag package syntax and pulls out -Dkey=value
// properties. Only the option prefix before the main class is touched.
func normalizeArgs(args []string) ([]string, map[string]string) {
	props := make(map[string]string)
	out := make([]string, 0, len(args))
	i := 0
	for ; i < len(args); i++ {
		a := args[i]
		if a == "--" || !strings.HasPrefix(a, "-") {
			break
		}
		switch {
		case a == "-verbose:class":
			out = append(out, "-verbose-class")
		case strings.HasPrefix(a, "-Xjre:"):
			out = append(out, "-Xjre="+strings.TrimPrefix(a, "-Xjre:"))
		case strings.HasPrefix(a, "-D") && len(a) > 2:
			kv := strings.SplitN(a[2:], "=", 2)
			if len(kv) == 1 {
				props[kv[0]] = ""
			} else {
				props[kv[0]] = kv[1]
			}
		default:
			out = append(out, a)
			if valueFlags[a] && i+1 < len(args) {
				i++
				out = append(out, args[i])
			}
		}
	}
	return append(out, args[i:]...), props
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	args, props := normalizeArgs(args)
	opts := &options{properties: props}

	fs := flag.NewFlagSet("kopi", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.classPath, "cp", "", "User class path (directories, jars, dir/*)")
	fs.StringVar(&opts.classPath, "classpath", "", "Same as -cp")
	fs.StringVar(&opts.jre, "Xjre", "", "Bootstrap class library directory (also -Xjre:<dir>)")
	fs.StringVar(&opts.jar, "jar", "", "Run the Main-Class of an executable jar")
	fs.StringVar(&opts.javap, "javap", "", "Disassemble a class instead of running it")
	fs.BoolVar(&opts.verbose, "verbose", false, "Print loaded classes and a run summary")
	fs.BoolVar(&opts.verboseClass, "verbose-class", false, "Print loaded classes (also -verbose:class)")
	fs.IntVar(&opts.logLevel, "log-level", -1, "Diagnostic log verbosity (overrides kopi.toml)")
	fs.StringVar(&opts.logFile, "log-file", "", "Diagnostic log file (default stderr)")
	fs.BoolVar(&opts.noCache, "no-cache", false, "Do not use the archive index")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: kopi [options] <main-class> [args...]\n")
		fmt.Fprintf(stderr, "       kopi [options] -jar <file.jar> [args...]\n")
		fmt.Fprintf(stderr, "       kopi [options] -javap <class>\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "  -D<name>=<value>\n    \tSet a system property\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.verbose {
		opts.verboseClass = true
	}

	rest := fs.Args()
	if opts.jar == "" && opts.javap == "" && len(rest) > 0 {
		opts.mainClass, rest = rest[0], rest[1:]
	}
	opts.args = rest
	return opts, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUncaught
	}

	cfg, err := config.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUncaught
	}
	if cfg == nil {
		cfg = config.Default()
	}
	configureLogging(opts, cfg)

	var index classpath.Index
	if cfg.Cache.Enabled && !opts.noCache {
		cache, err := classcache.Open(cfg.CachePath())
		if err != nil {
			log.Warningf("archive index disabled: %v", err)
		} else {
			defer cache.Close()
			index = cache
		}
	}

	userPath := opts.classPath
	if userPath == "" {
		userPath = cfg.ClassPathList()
	}
	mainClass := opts.mainClass
	if opts.jar != "" {
		userPath = opts.jar
		if mainClass, err = jarMainClass(opts.jar); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUncaught
		}
	}
	if mainClass == "" && opts.javap == "" {
		mainClass = cfg.Runtime.Main
		if mainClass == "" {
			fmt.Fprintf(stderr, "Error: no main class given (see kopi -help)\n")
			return exitUncaught
		}
	}
	jre := opts.jre
	if jre == "" {
		jre = cfg.JREPath()
	}

	cp, err := classpath.New(jre, userPath, classpath.Options{Index: index})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUncaught
	}

	if opts.javap != "" {
		if err := javap(stdout, cp, opts.javap); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUncaught
		}
		return exitOK
	}

	v, err := vm.New(vm.Options{
		ClassPath:     cp,
		UserClassPath: cp.String(),
		JavaHome:      cp.JREDir,
		MaxStackDepth: cfg.Runtime.MaxStackDepth,
		VerboseClass:  opts.verboseClass,
		SystemLoader:  cfg.UseSystemLoader(),
		Stdout:        stdout,
		Stderr:        stderr,
		Properties:    mergeProperties(cfg.Properties, opts.properties),
	})
	if err != nil {
		return exitCode(err, stderr)
	}
	if err := v.Start(); err != nil {
		fmt.Fprintf(stderr, "Error occurred during initialization of VM\n%v\n", err)
		if code := exitCode(err, io.Discard); code != exitOK {
			return code
		}
		return exitUncaught
	}
	err = v.RunMain(mainClass, opts.args)
	if opts.verbose {
		printSummary(stdout, v.Stats())
	}
	return exitCode(err, stderr)
}

// configureLogging applies -log-level/-log-file over the [log] section.
func configureLogging(opts *options, cfg *config.Config) {
	verbosity := cfg.Log.Verbosity
	if opts.logLevel >= 0 {
		verbosity = opts.logLevel
	}
	path := cfg.Log.File
	if opts.logFile != "" {
		path = opts.logFile
	}
	if path == "" {
		commonlog.Configure(verbosity, nil)
		return
	}
	commonlog.Configure(verbosity, &path)
}

// jarMainClass reads Main-Class from an executable jar's manifest.
func jarMainClass(path string) (string, error) {
	jar, err := classpath.NewArchiveEntry(path, classpath.Options{})
	if err != nil {
		return "", err
	}
	defer jar.Close()
	manifest, err := jar.Manifest()
	if err != nil {
		return "", fmt.Errorf("%s: cannot read manifest: %w", path, err)
	}
	mainClass := manifest["Main-Class"]
	if mainClass == "" {
		return "", fmt.Errorf("no main manifest attribute, in %s", path)
	}
	return mainClass, nil
}

// mergeProperties overlays command-line -D values on kopi.toml properties.
func mergeProperties(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// exitCode maps a run result to the process status, printing diagnostics
// that have not been printed yet.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	var exit *vm.ExitError
	var fatal *vm.FatalError
	var thrown *vm.ThrowableError
	switch {
	case errors.As(err, &exit):
		return exit.Code
	case errors.As(err, &fatal):
		fmt.Fprintf(stderr, "kopi: %v\n", fatal)
		return exitInvariant
	case errors.As(err, &thrown):
		// The stack trace was printed when the exception escaped.
		return exitUncaught
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitUncaught
}

func printSummary(w io.Writer, s vm.Stats) {
	fmt.Fprintf(w, "[Summary: %s classes loaded, %s of class data, %s interned strings]\n",
		humanize.Comma(s.ClassesLoaded), humanize.Bytes(uint64(s.ClassBytes)), humanize.Comma(int64(s.Interned)))
}
