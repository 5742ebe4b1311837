package vm

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/kopi/classpath"
)

// ---------------------------------------------------------------------------
// java/io file handles
// ---------------------------------------------------------------------------

// A FileDescriptor opened by open0 carries its *os.File as meta-data. The
// standard descriptors 0, 1 and 2 map to the VM's configured streams.

const (
	fdField     = "fd"
	fdDesc      = "Ljava/io/FileDescriptor;"
	fdIntDesc   = "I"
	filePathKey = "path"
)

func registerIONatives() {
	const fos = "java/io/FileOutputStream"
	RegisterNative(fos, "open0", "(Ljava/lang/String;Z)V", func(f *Frame) {
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if f.locals.Int(2) != 0 {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		openStream(f, flags)
	})
	RegisterNative(fos, "write", "(IZ)V", func(f *Frame) {
		w := streamWriter(f)
		if w == nil {
			return
		}
		if _, err := w.Write([]byte{byte(f.locals.Int(1))}); err != nil {
			f.Throw(IOException, err.Error())
		}
	})
	RegisterNative(fos, "writeBytes", "([BIIZ)V", func(f *Frame) {
		buf, off, n := f.locals.Ref(1), f.locals.Int(2), f.locals.Int(3)
		if !f.nullCheck(buf) {
			return
		}
		if off < 0 || n < 0 || int64(off)+int64(n) > int64(buf.ArrayLength()) {
			f.Throw("java/lang/IndexOutOfBoundsException", "")
			return
		}
		w := streamWriter(f)
		if w == nil {
			return
		}
		data := make([]byte, n)
		for i, b := range buf.Bytes()[off : off+n] {
			data[i] = byte(b)
		}
		if _, err := w.Write(data); err != nil {
			f.Throw(IOException, err.Error())
		}
	})
	RegisterNative(fos, "close0", "()V", closeStream)

	const fis = "java/io/FileInputStream"
	RegisterNative(fis, "open0", "(Ljava/lang/String;)V", func(f *Frame) {
		openStream(f, os.O_RDONLY)
	})
	RegisterNative(fis, "read0", "()I", func(f *Frame) {
		r := streamReader(f)
		if r == nil {
			return
		}
		var b [1]byte
		n, err := r.Read(b[:])
		switch {
		case n == 1:
			f.stack.PushInt(int32(b[0]))
		case err == nil || errors.Is(err, io.EOF):
			f.stack.PushInt(-1)
		default:
			f.Throw(IOException, err.Error())
		}
	})
	RegisterNative(fis, "readBytes", "([BII)I", func(f *Frame) {
		buf, off, n := f.locals.Ref(1), f.locals.Int(2), f.locals.Int(3)
		if !f.nullCheck(buf) {
			return
		}
		if off < 0 || n < 0 || int64(off)+int64(n) > int64(buf.ArrayLength()) {
			f.Throw("java/lang/IndexOutOfBoundsException", "")
			return
		}
		if n == 0 {
			f.stack.PushInt(0)
			return
		}
		r := streamReader(f)
		if r == nil {
			return
		}
		data := make([]byte, n)
		got, err := r.Read(data)
		if got == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				f.stack.PushInt(-1)
				return
			}
			f.Throw(IOException, err.Error())
			return
		}
		dst := buf.Bytes()[off:]
		for i := 0; i < got; i++ {
			dst[i] = int8(data[i])
		}
		f.stack.PushInt(int32(got))
	})
	RegisterNative(fis, "available0", "()I", func(f *Frame) {
		fdObj := f.This().GetRefField(fdField, fdDesc)
		if file, ok := fdObj.extra.(*os.File); ok {
			info, err := file.Stat()
			pos, serr := file.Seek(0, io.SeekCurrent)
			if err == nil && serr == nil && info.Mode().IsRegular() {
				f.stack.PushInt(int32(max(info.Size()-pos, 0)))
				return
			}
		}
		f.stack.PushInt(0)
	})
	RegisterNative(fis, "close0", "()V", closeStream)

	const ufs = "java/io/UnixFileSystem"
	RegisterNative(ufs, "canonicalize0", "(Ljava/lang/String;)Ljava/lang/String;", func(f *Frame) {
		path := f.locals.Ref(1)
		if !f.nullCheck(path) {
			return
		}
		abs, err := filepath.Abs(GoString(path))
		if err != nil {
			f.Throw(IOException, err.Error())
			return
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		f.stack.PushRef(f.VM().NewString(abs))
	})
	RegisterNative(ufs, "getBooleanAttributes0", "(Ljava/io/File;)I", func(f *Frame) {
		path, ok := filePath(f, f.locals.Ref(1))
		if !ok {
			return
		}
		info, err := os.Stat(path)
		if err != nil {
			f.stack.PushInt(0)
			return
		}
		attrs := int32(0x01)
		if info.Mode().IsRegular() {
			attrs |= 0x02
		}
		if info.IsDir() {
			attrs |= 0x04
		}
		if strings.HasPrefix(filepath.Base(path), ".") {
			attrs |= 0x08
		}
		f.stack.PushInt(attrs)
	})
	RegisterNative(ufs, "getLength", "(Ljava/io/File;)J", func(f *Frame) {
		path, ok := filePath(f, f.locals.Ref(1))
		if !ok {
			return
		}
		info, err := os.Stat(path)
		if err != nil {
			f.stack.PushLong(0)
			return
		}
		f.stack.PushLong(info.Size())
	})

	RegisterNative("java/util/jar/JarFile", "getMetaInfEntryNames", "()[Ljava/lang/String;", jarMetaInfEntryNames)
}

func filePath(f *Frame, file *Object) (string, bool) {
	if !f.nullCheck(file) {
		return "", false
	}
	return GoString(file.GetRefField(filePathKey, "Ljava/lang/String;")), true
}

func openStream(f *Frame, flags int) {
	name := f.locals.Ref(1)
	if !f.nullCheck(name) {
		return
	}
	path := GoString(name)
	file, err := os.OpenFile(path, flags, 0o666)
	if err != nil {
		f.Throw(FileNotFoundException, path+" ("+errorReason(err)+")")
		return
	}
	fdObj := f.This().GetRefField(fdField, fdDesc)
	if fdObj == nil {
		file.Close()
		f.Throw(IOException, "stream has no file descriptor")
		return
	}
	fdObj.extra = file
	fdObj.SetIntField(fdField, fdIntDesc, int32(file.Fd()))
}

func errorReason(err error) string {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}

func closeStream(f *Frame) {
	fdObj := f.This().GetRefField(fdField, fdDesc)
	if fdObj == nil {
		return
	}
	if file, ok := fdObj.extra.(*os.File); ok {
		fdObj.extra = nil
		if err := file.Close(); err != nil {
			f.Throw(IOException, err.Error())
			return
		}
	}
	fdObj.SetIntField(fdField, fdIntDesc, -1)
}

// streamWriter resolves the receiver stream's descriptor to a writer.
func streamWriter(f *Frame) io.Writer {
	fdObj := f.This().GetRefField(fdField, fdDesc)
	if fdObj != nil {
		if file, ok := fdObj.extra.(*os.File); ok {
			return file
		}
		switch fdObj.GetIntField(fdField, fdIntDesc) {
		case 1:
			return f.VM().stdout
		case 2:
			return f.VM().stderr
		}
	}
	f.Throw(IOException, "Stream Closed")
	return nil
}

func streamReader(f *Frame) io.Reader {
	fdObj := f.This().GetRefField(fdField, fdDesc)
	if fdObj != nil {
		if file, ok := fdObj.extra.(*os.File); ok {
			return file
		}
		if fdObj.GetIntField(fdField, fdIntDesc) == 0 {
			return f.VM().stdin
		}
	}
	f.Throw(IOException, "Stream Closed")
	return nil
}

// jarMetaInfEntryNames lists the META-INF/ members of the archive a
// java/util/jar/JarFile was opened on, or returns null when there are none.
func jarMetaInfEntryNames(f *Frame) {
	t := f.thread
	this := f.This()
	if !this.HasField("name", "Ljava/lang/String;") {
		f.stack.PushRef(nil)
		return
	}
	archive, err := classpath.NewArchiveEntry(GoString(this.GetRefField("name", "Ljava/lang/String;")), classpath.Options{})
	if err != nil {
		f.Throw(IOException, err.Error())
		return
	}
	defer archive.Close()
	var names []string
	for _, n := range archive.EntryNames() {
		if strings.HasPrefix(strings.ToUpper(n), "META-INF/") {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		f.stack.PushRef(nil)
		return
	}
	arr, err := f.VM().NewStringArray(t, names)
	if err != nil {
		f.ThrowError(err)
		return
	}
	f.stack.PushRef(arr)
}
