package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/kopi/classfile"
	"github.com/chazu/kopi/vm"
)

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		in    []string
		want  []string
		props map[string]string
	}{
		{
			in:    []string{"-verbose:class", "Main", "-verbose:class"},
			want:  []string{"-verbose-class", "Main", "-verbose:class"},
			props: map[string]string{},
		},
		{
			in:    []string{"-Xjre:/opt/jre", "-cp", "-weird-dir", "Main"},
			want:  []string{"-Xjre=/opt/jre", "-cp", "-weird-dir", "Main"},
			props: map[string]string{},
		},
		{
			in:    []string{"-Dfoo=bar", "-Dflag", "-Da=b=c", "Main", "-Dnot=mine"},
			want:  []string{"Main", "-Dnot=mine"},
			props: map[string]string{"foo": "bar", "flag": "", "a": "b=c"},
		},
		{
			in:    []string{"--", "-Dx=y"},
			want:  []string{"--", "-Dx=y"},
			props: map[string]string{},
		},
	}
	for _, tt := range tests {
		got, props := normalizeArgs(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("normalizeArgs(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !reflect.DeepEqual(props, tt.props) {
			t.Errorf("normalizeArgs(%q) props = %v, want %v", tt.in, props, tt.props)
		}
	}
}

func TestParseArgs(t *testing.T) {
	var stderr bytes.Buffer
	opts, err := parseArgs([]string{"-classpath", "a:b", "-verbose", "-Xjre:/j", "app.Main", "x", "-y"}, &stderr)
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if opts.classPath != "a:b" || opts.jre != "/j" {
		t.Errorf("classPath, jre = %q, %q", opts.classPath, opts.jre)
	}
	if !opts.verbose || !opts.verboseClass {
		t.Errorf("-verbose did not imply class tracing")
	}
	if opts.mainClass != "app.Main" || !reflect.DeepEqual(opts.args, []string{"x", "-y"}) {
		t.Errorf("main, args = %q, %q", opts.mainClass, opts.args)
	}
	if opts.logLevel != -1 {
		t.Errorf("logLevel = %d, want -1", opts.logLevel)
	}

	opts, err = parseArgs([]string{"-jar", "app.jar", "one"}, &stderr)
	if err != nil {
		t.Fatalf("parseArgs(-jar) error = %v", err)
	}
	if opts.jar != "app.jar" || opts.mainClass != "" || !reflect.DeepEqual(opts.args, []string{"one"}) {
		t.Errorf("-jar: jar %q, main %q, args %q", opts.jar, opts.mainClass, opts.args)
	}

	if _, err := parseArgs([]string{"-no-such-flag"}, &stderr); err == nil {
		t.Errorf("parseArgs(-no-such-flag) succeeded")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err     error
		want    int
		printed bool
	}{
		{nil, 0, false},
		{&vm.ExitError{Code: 3}, 3, false},
		{fmt.Errorf("wrapped: %w", &vm.ExitError{Code: 0}), 0, false},
		{&vm.FatalError{Message: "bad frame"}, 101, true},
		{&vm.ThrowableError{}, 1, false},
		{errors.New("could not find or load main class X"), 1, true},
	}
	for _, tt := range tests {
		var stderr bytes.Buffer
		if got := exitCode(tt.err, &stderr); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
		if printed := stderr.Len() > 0; printed != tt.printed {
			t.Errorf("exitCode(%v) printed %q", tt.err, stderr.String())
		}
	}
}

func TestMergeProperties(t *testing.T) {
	got := mergeProperties(map[string]string{"a": "1", "b": "2"}, map[string]string{"b": "3"})
	want := map[string]string{"a": "1", "b": "3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeProperties() = %v, want %v", got, want)
	}
}

func helloClass() []byte {
	c := classfile.NewClassBuilder("kopitest/Hello", "java/lang/Object", classfile.AccPublic|classfile.AccSuper)
	c.SetSourceFile("Hello.java")
	c.AddField(classfile.AccPrivate|classfile.AccStatic, "count", "I")
	cb := c.Code()
	start, end, handler := cb.NewLabel(), cb.NewLabel(), cb.NewLabel()
	cb.Mark(start).
		Field(classfile.OpGetstatic, "kopitest/Hello", "count", "I").
		Emit(classfile.OpIreturn).
		Mark(end).Mark(handler).
		PushInt(-1).
		Emit(classfile.OpIreturn).
		AddHandler(start, end, handler, "java/lang/Throwable")
	code, err := cb.Build()
	if err != nil {
		panic(err)
	}
	c.AddMethod(classfile.AccPublic|classfile.AccStatic, "count", "()I", code)
	c.AddMethod(classfile.AccPublic|classfile.AccNative, "peek", "()J", nil)
	return c.Bytes()
}

func TestJavap(t *testing.T) {
	jre := t.TempDir()
	if err := os.Mkdir(filepath.Join(jre, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	user := t.TempDir()
	if err := os.Mkdir(filepath.Join(user, "kopitest"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(user, "kopitest", "Hello.class"), helloClass(), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"-Xjre:" + jre, "-cp", user, "-javap", "kopitest.Hello"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run(-javap) = %d, stderr %q", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{
		`Compiled from "Hello.java"`,
		"public class kopitest.Hello\n",
		"  private static I count;\n",
		"  public static count()I;\n",
		"stack=",
		"getstatic",
		"ireturn",
		"Exception table:",
		"Class java/lang/Throwable",
		"  public native peek()J;\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("javap output lacks %q:\n%s", want, out)
		}
	}

	stdout.Reset()
	stderr.Reset()
	code = run([]string{"-Xjre:" + jre, "-cp", user, "-javap", "kopitest.Nope"}, &stdout, &stderr)
	if code != 1 || !strings.Contains(stderr.String(), "class not found: kopitest.Nope") {
		t.Errorf("run(-javap missing) = %d, stderr %q", code, stderr.String())
	}
}

func TestMissingJRE(t *testing.T) {
	var stdout, stderr bytes.Buffer
	missing := filepath.Join(t.TempDir(), "nowhere")
	if code := run([]string{"-Xjre:" + missing, "Main"}, &stdout, &stderr); code != 1 {
		t.Errorf("run(missing jre) = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "does not exist") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
