package store

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/edsrzf/mmap-go"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FileSystem stores each key as a file directly under a root directory.
// Files are written to a scratch directory first and renamed into place on
// Close, so a reader never sees a partial value. Open maps files into memory
// when it can.
type FileSystem struct {
	root string
}

// the subdir to store files while they are being written to. Keys may not
// start with a period, so it never collides with one.
const scratchdir = ".scratch"

var _ Store = &FileSystem{}

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// List returns a channel listing all the keys in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go func() {
		defer close(c)
		f, err := os.Open(s.root)
		if err != nil {
			s.report(err)
			return
		}
		defer f.Close()
		for {
			entries, err := f.Readdir(1000)
			if err == io.EOF {
				return
			} else if err != nil {
				// we have no other way of passing this error back
				s.report(err)
				return
			}
			for _, e := range entries {
				if !e.Mode().IsRegular() || ValidKey(e.Name()) != nil {
					continue
				}
				c <- e.Name()
			}
		}
	}()
	return c
}

func (s *FileSystem) report(err error) {
	logrus.WithField("root", s.root).WithError(err).Errorln("store list")
	raven.CaptureError(err, map[string]string{"root": s.root})
}

// ListPrefix returns a list of all the keys beginning with the given prefix.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	if _, err := os.Stat(s.root); err != nil {
		return nil, err
	}
	return collect(s.List(), prefix), nil
}

// Open returns a reader for the given key along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := ValidKey(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(s.root, key))
	if os.IsNotExist(err) {
		return nil, 0, errors.Wrap(ErrNotExist, key)
	} else if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if fi.Size() == 0 {
		// empty files cannot be mapped
		return f, 0, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		logrus.WithField("key", key).WithError(err).Debugln("mmap failed, using read")
		return f, fi.Size(), nil
	}
	return &mapped{m: m, f: f}, fi.Size(), nil
}

// mapped is a read-only memory mapped file.
type mapped struct {
	m mmap.MMap
	f *os.File
}

func (r *mapped) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(len(r.m)) {
		return 0, io.EOF
	}
	n := copy(p, r.m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *mapped) Close() error {
	err := r.m.Unmap()
	if err2 := r.f.Close(); err == nil {
		err = err2
	}
	return err
}

// Create returns a writer saving a new value under key. The file also has a
// Sync method, which flushes it to stable storage.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	target := filepath.Join(s.root, key)
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	dir := filepath.Join(s.root, scratchdir)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	temp := filepath.Join(dir, key)
	// O_EXCL keeps two writers of the same key apart
	f, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &moveCloser{File: f, source: temp, target: target}, nil
}

// moveCloser moves the file into place when it is closed.
type moveCloser struct {
	*os.File
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.File.Close()
	if err != nil {
		os.Remove(w.source)
		return err
	}
	if _, err = os.Stat(w.target); !os.IsNotExist(err) {
		os.Remove(w.source)
		return ErrKeyExists
	}
	return os.Rename(w.source, w.target)
}

// Delete the given key from the store. It is not an error if the key doesn't
// exist.
func (s *FileSystem) Delete(key string) error {
	if strings.Contains(key, "/") {
		return ErrKeyContainsSlash
	}
	err := os.Remove(filepath.Join(s.root, key))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}
