// Package store keeps dump containers, and anything derived from them, as
// named streams. Values are immutable once written, but may be deleted and
// written again.
//
// FileSystem is what the dump command writes to, typically a directory on
// removable media. S3 lets the browsing server work from a bucket, and
// Memory is for tests.
package store

import (
	"io"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// ROStore is the read-only part of a Store.
type ROStore interface {
	// List returns every key in the store, in no particular order. The
	// channel is closed once all keys were sent.
	List() <-chan string

	// ListPrefix returns the sorted keys beginning with prefix.
	ListPrefix(prefix string) ([]string, error)

	// Open returns the content of key and its size. The error satisfies
	// errors.Is(err, ErrNotExist) for a missing key.
	Open(key string) (ReadAtCloser, int64, error)
}

// Store is a stream based key-value store.
//
// The value written to the WriteCloser returned by Create only becomes
// visible under key once Close returns without error.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

var (
	// ErrKeyExists indicates an attempt to create a key which already exists
	ErrKeyExists = errors.New("key already exists")

	// ErrNotExist is returned when opening a missing key.
	ErrNotExist = errors.New("key does not exist")

	ErrKeyEmpty              = errors.New("key is empty")
	ErrKeyContainsSlash      = errors.New("key contains forward slash")
	ErrKeyContainsNonUnicode = errors.New("key contains non-unicode character")
	ErrKeyContainsWhiteSpace = errors.New("key contains white space")
	ErrKeyContainsControl    = errors.New("key contains control characters")
	ErrKeyHidden             = errors.New("key begins with a period")
)

// ValidKey checks that key can be used as a name in every store.
func ValidKey(key string) error {
	switch {
	case key == "":
		return ErrKeyEmpty
	case !utf8.ValidString(key):
		return ErrKeyContainsNonUnicode
	case strings.Contains(key, "/"):
		return ErrKeyContainsSlash
	case key[0] == '.':
		return ErrKeyHidden
	}
	for _, r := range key {
		if unicode.IsSpace(r) {
			return ErrKeyContainsWhiteSpace
		}
		if unicode.IsControl(r) {
			return ErrKeyContainsControl
		}
	}
	return nil
}

// NewReader returns a reader over the first size bytes of r. It is seekable,
// so an obf.Reader can skip unwanted file content without reading it.
func NewReader(r io.ReaderAt, size int64) *io.SectionReader {
	return io.NewSectionReader(r, 0, size)
}

// collect drains a List channel into a sorted slice of keys with prefix.
func collect(c <-chan string, prefix string) []string {
	var result []string
	for key := range c {
		if strings.HasPrefix(key, prefix) {
			result = append(result, key)
		}
	}
	sort.Strings(result)
	return result
}
