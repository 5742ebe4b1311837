package classpath

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

func writeJar(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirEntry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "B.class"), "bytes-of-B")

	e, err := NewDirEntry(dir)
	if err != nil {
		t.Fatal(err)
	}
	data, from, err := e.ReadClass("a/B")
	if err != nil {
		t.Fatalf("ReadClass: %v", err)
	}
	if string(data) != "bytes-of-B" {
		t.Errorf("data = %q", data)
	}
	if from != Entry(e) {
		t.Errorf("from = %v, want the dir entry", from)
	}
	if _, _, err := e.ReadClass("a/Missing"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("missing class err = %v, want ErrClassNotFound", err)
	}
	names, err := e.ClassNames()
	if err != nil || len(names) != 1 || names[0] != "a/B" {
		t.Errorf("ClassNames = %v, %v", names, err)
	}
}

func TestArchiveEntry(t *testing.T) {
	jar := filepath.Join(t.TempDir(), "lib.jar")
	writeJar(t, jar, map[string]string{
		"p/Q.class":            "Q",
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\r\nMain-Class: p.Q\r\n\r\n",
	})
	e, err := NewArchiveEntry(jar, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	data, _, err := e.ReadClass("p/Q")
	if err != nil || string(data) != "Q" {
		t.Errorf("ReadClass = %q, %v", data, err)
	}
	if _, _, err := e.ReadClass("p/R"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("err = %v, want ErrClassNotFound", err)
	}
	m, err := e.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	if m["Main-Class"] != "p.Q" {
		t.Errorf("Main-Class = %q", m["Main-Class"])
	}
	names := e.EntryNames()
	if len(names) != 2 || names[0] != "META-INF/MANIFEST.MF" {
		t.Errorf("EntryNames = %v", names)
	}
}

func TestMissingArchiveIsEmpty(t *testing.T) {
	e, err := NewArchiveEntry(filepath.Join(t.TempDir(), "nope.jar"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.ReadClass("X"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("err = %v, want ErrClassNotFound", err)
	}
}

func TestWildcardOrder(t *testing.T) {
	dir := t.TempDir()
	writeJar(t, filepath.Join(dir, "b.jar"), map[string]string{"X.class": "from-b"})
	writeJar(t, filepath.Join(dir, "a.jar"), map[string]string{"X.class": "from-a", "Y.class": "y"})
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	e, err := NewEntry(dir+string(filepath.Separator)+"*", Options{})
	if err != nil {
		t.Fatal(err)
	}
	data, from, err := e.ReadClass("X")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "from-a" {
		t.Errorf("X = %q, want from-a (archives searched in name order)", data)
	}
	if !strings.HasSuffix(from.String(), "a.jar") {
		t.Errorf("from = %s", from)
	}
	names, err := e.(Lister).ClassNames()
	if err != nil || len(names) != 3 {
		t.Errorf("ClassNames = %v, %v", names, err)
	}
}

func openFiles(t *testing.T) int {
	t.Helper()
	fds, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot count open files: %v", err)
	}
	return len(fds)
}

func TestWildcardBadArchiveClosesOthers(t *testing.T) {
	dir := t.TempDir()
	writeJar(t, filepath.Join(dir, "a.jar"), map[string]string{"X.class": "x"})
	writeJar(t, filepath.Join(dir, "c.jar"), map[string]string{"Y.class": "y"})
	writeFile(t, filepath.Join(dir, "b.jar"), "not a zip archive")

	before := openFiles(t)
	if _, err := NewWildcardEntry(dir, Options{}); err == nil {
		t.Fatal("NewWildcardEntry() succeeded with a corrupt jar")
	}
	if after := openFiles(t); after != before {
		t.Errorf("open files = %d after failed expansion, want %d", after, before)
	}
}

func TestParseComposite(t *testing.T) {
	d1, d2 := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(d2, "Only.class"), "only")
	writeFile(t, filepath.Join(d1, "Both.class"), "first")
	writeFile(t, filepath.Join(d2, "Both.class"), "second")

	e, err := Parse(d1+string(filepath.ListSeparator)+d2, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if data, _, _ := e.ReadClass("Both"); string(data) != "first" {
		t.Errorf("Both = %q, want first", data)
	}
	if data, _, _ := e.ReadClass("Only"); string(data) != "only" {
		t.Errorf("Only = %q, want only", data)
	}
	if !strings.Contains(e.String(), string(filepath.ListSeparator)) {
		t.Errorf("String = %q", e.String())
	}
}

func TestMemoryEntry(t *testing.T) {
	m := NewMemoryEntry("<memory>")
	m.Add("a/A", []byte{1})
	if data, from, err := m.ReadClass("a/A"); err != nil || data[0] != 1 || from.String() != "<memory>" {
		t.Errorf("ReadClass = %v, %v, %v", data, from, err)
	}
	if _, _, err := m.ReadClass("a/B"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestFindJRE(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "jre", "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JAVA_HOME", home)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	got, err := FindJRE("")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "jre") {
		t.Errorf("FindJRE = %q, want JAVA_HOME/jre", got)
	}
	if _, err := FindJRE(filepath.Join(home, "absent")); err == nil {
		t.Errorf("FindJRE accepted a missing -Xjre directory")
	}

	// ./jre wins over JAVA_HOME
	if err := os.Mkdir("jre", 0o755); err != nil {
		t.Fatal(err)
	}
	got, _ = FindJRE("")
	if filepath.Base(got) != "jre" || got == filepath.Join(home, "jre") {
		t.Errorf("FindJRE = %q, want ./jre", got)
	}
}

func TestClassPathSearchOrder(t *testing.T) {
	jre := t.TempDir()
	if err := os.MkdirAll(filepath.Join(jre, "lib", "ext"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeJar(t, filepath.Join(jre, "lib", "rt.jar"), map[string]string{"java/lang/Object.class": "boot"})
	writeJar(t, filepath.Join(jre, "lib", "ext", "x.jar"), map[string]string{"ext/E.class": "ext"})
	user := t.TempDir()
	writeFile(t, filepath.Join(user, "java", "lang", "Object.class"), "user")
	writeFile(t, filepath.Join(user, "Main.class"), "main")

	cp, err := New(jre, user, Options{})
	if err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]string{"java/lang/Object": "boot", "ext/E": "ext", "Main": "main"} {
		data, _, err := cp.ReadClass(name)
		if err != nil || string(data) != want {
			t.Errorf("ReadClass(%s) = %q, %v, want %q", name, data, err, want)
		}
	}
	if _, _, err := cp.ReadBootClass("Main"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("ReadBootClass(Main) err = %v, want ErrClassNotFound", err)
	}
}

type fakeIndex struct {
	stored map[string][]string
	hits   int
}

func (f *fakeIndex) Lookup(path string, _ time.Time, _ int64) ([]string, bool) {
	names, ok := f.stored[path]
	if ok {
		f.hits++
	}
	return names, ok
}

func (f *fakeIndex) Store(path string, _ time.Time, _ int64, names []string) error {
	f.stored[path] = names
	return nil
}

func TestArchiveIndexAvoidsOpen(t *testing.T) {
	jar := filepath.Join(t.TempDir(), "lib.jar")
	writeJar(t, jar, map[string]string{"A.class": "a"})
	idx := &fakeIndex{stored: map[string][]string{}}

	first, err := NewArchiveEntry(jar, Options{Index: idx})
	if err != nil {
		t.Fatal(err)
	}
	first.Close()
	if len(idx.stored) != 1 {
		t.Fatalf("index not populated: %v", idx.stored)
	}

	second, err := NewArchiveEntry(jar, Options{Index: idx})
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if idx.hits != 1 {
		t.Errorf("hits = %d, want 1", idx.hits)
	}
	if second.rc != nil {
		t.Errorf("archive opened despite index hit")
	}
	if _, _, err := second.ReadClass("Missing"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("err = %v", err)
	}
	if second.rc != nil {
		t.Errorf("archive opened for a class the index rules out")
	}
	if data, _, err := second.ReadClass("A"); err != nil || string(data) != "a" {
		t.Errorf("ReadClass(A) = %q, %v", data, err)
	}
}

func TestParseManifestContinuation(t *testing.T) {
	m := ParseManifest([]byte("Main-Class: com.exa\n mple.Main\nClass-Path: a.jar\n\nName: x\nFoo: bar\n"))
	if m["Main-Class"] != "com.example.Main" {
		t.Errorf("Main-Class = %q", m["Main-Class"])
	}
	if _, ok := m["Foo"]; ok {
		t.Errorf("per-entry section leaked into main attributes")
	}
}
