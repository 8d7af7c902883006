package store

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestValidKey(t *testing.T) {
	var table = []struct {
		key string
		err error
	}{
		{"firmware.obf", nil},
		{"2026-10-17T120000Z.obf", nil},
		{"", ErrKeyEmpty},
		{"a/b", ErrKeyContainsSlash},
		{"a b", ErrKeyContainsWhiteSpace},
		{"a\tb", ErrKeyContainsWhiteSpace},
		{"a\x01b", ErrKeyContainsControl},
		{"a\xffb", ErrKeyContainsNonUnicode},
		{".scratch", ErrKeyHidden},
	}
	for _, tab := range table {
		err := ValidKey(tab.key)
		if err != tab.err {
			t.Errorf("ValidKey(%q) = %v, expected %v", tab.key, err, tab.err)
		}
	}
}

// testStore runs the behavior every Store shares.
func testStore(t *testing.T, s Store) {
	keys := []string{"b.obf", "a.obf", "a.obf-cache", "empty"}
	for _, key := range keys {
		w, err := s.Create(key)
		if err != nil {
			t.Fatalf("Create(%s): %s", key, err)
		}
		if key != "empty" {
			io.WriteString(w, "content of "+key)
		}
		// not visible before Close
		if _, _, err := s.Open(key); !errors.Is(err, ErrNotExist) {
			t.Errorf("Open(%s) before Close: %v", key, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close(%s): %s", key, err)
		}
	}

	if _, err := s.Create("a.obf"); err != ErrKeyExists {
		t.Errorf("Create of existing key got %v", err)
	}

	r, size, err := s.Open("a.obf")
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("content of a.obf")) {
		t.Errorf("size = %d", size)
	}
	// seek into the middle
	sr := NewReader(r, size)
	sr.Seek(11, io.SeekStart)
	rest, err := ioutil.ReadAll(sr)
	if err != nil || string(rest) != "a.obf" {
		t.Errorf("read after seek got %q, %v", rest, err)
	}
	r.Close()

	r, size, err = s.Open("empty")
	if err != nil || size != 0 {
		t.Fatalf("Open(empty) = %d, %v", size, err)
	}
	r.Close()

	list, err := s.ListPrefix("a.")
	if err != nil {
		t.Fatal(err)
	}
	if !equal(list, []string{"a.obf", "a.obf-cache"}) {
		t.Errorf("ListPrefix got %v", list)
	}
	all := collect(s.List(), "")
	if !equal(all, []string{"a.obf", "a.obf-cache", "b.obf", "empty"}) {
		t.Errorf("List got %v", all)
	}

	if err := s.Delete("b.obf"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("b.obf"); err != nil {
		t.Errorf("second delete: %s", err)
	}
	if _, _, err := s.Open("b.obf"); !errors.Is(err, ErrNotExist) {
		t.Errorf("Open after delete got %v", err)
	}
}

func TestFileSystem(t *testing.T) {
	dir, err := ioutil.TempDir("", "obfw")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	testStore(t, NewFileSystem(dir))

	// the scratch directory is not listed
	if _, err := os.Stat(filepath.Join(dir, scratchdir)); err != nil {
		t.Error(err)
	}
}

func TestFileSystemSync(t *testing.T) {
	dir, err := ioutil.TempDir("", "obfw")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	s := NewFileSystem(dir)
	w, err := s.Create("x")
	if err != nil {
		t.Fatal(err)
	}
	syncer, ok := w.(interface{ Sync() error })
	if !ok {
		t.Fatal("writer has no Sync method")
	}
	io.WriteString(w, strings.Repeat("x", 10000))
	if err := syncer.Sync(); err != nil {
		t.Error(err)
	}
	w.Close()

	r, size, err := s.Open("x")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, ok := r.(*mapped); !ok {
		t.Logf("file was not memory mapped: %T", r)
	}
	buf := make([]byte, 20)
	n, err := r.ReadAt(buf, size-5)
	if n != 5 || err != io.EOF {
		t.Errorf("ReadAt at end = %d, %v", n, err)
	}
}

func TestFileSystemMissingRoot(t *testing.T) {
	s := NewFileSystem("/nonexistent/obfw/store")
	if _, err := s.ListPrefix(""); err == nil {
		t.Error("expected an error")
	}
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
