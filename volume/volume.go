// Package volume describes the mounted volume collection a dump is taken
// from, and implements the safe ways of walking it.
//
// The collection is owned by someone else and changes under us: volumes get
// mounted and unmounted while a dump runs. Manager therefore only offers the
// primitives needed for the busy-reference protocol in ForEachReadOnly, and
// Node handles must be released exactly once, which Handle takes care of.
package volume

import (
	"github.com/pkg/errors"
)

// NodeType classifies a Node.
type NodeType int

const (
	TypeOther NodeType = iota
	TypeDirectory
	TypeRegular
)

func (t NodeType) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeRegular:
		return "regular file"
	}
	return "other"
}

// DirEntry is one record returned by Node.ReadDir.
type DirEntry struct {
	Name string
}

// A Node is a referenced directory entry of a mounted volume, comparable to
// a vnode. Every Node returned by Volume.Root or Node.Lookup holds a
// reference that must be dropped with Release exactly once.
type Node interface {
	Type() NodeType

	// ReadDir returns at most max entries of a directory starting at the
	// opaque position cookie (0 is the start). It returns the cookie to
	// continue from and whether the end of the directory was reached. The
	// entries "." and ".." are included, like a kernel readdir.
	ReadDir(cookie int64, max int) (entries []DirEntry, next int64, eof bool, err error)

	// Lookup resolves the named child of a directory.
	Lookup(name string) (Node, error)

	// ReadAt reads file content at off. It returns io.EOF, possibly along
	// with data, once the end of the file is reached.
	ReadAt(p []byte, off int64) (int, error)

	Release()
}

// A Volume is one mounted filesystem.
type Volume interface {
	// Lock and Unlock guard the volume's flags.
	Lock()
	Unlock()

	// ReadOnly reports whether the volume is mounted read-only. The caller
	// must hold the volume lock.
	ReadOnly() bool

	FSType() string
	Device() string

	// Root returns a referenced Node for the root directory.
	Root() (Node, error)
}

// Manager is the live collection of mounted volumes.
type Manager interface {
	// LockList and UnlockList guard the collection itself.
	LockList()
	UnlockList()

	// First and Next walk the collection. The caller must hold the list
	// lock. Both return nil at the end.
	First() Volume
	Next(v Volume) Volume

	// Busy pins v against unmount. It must be called with the list lock
	// held, and returns with the list lock released. It always succeeds.
	Busy(v Volume)

	// Unbusy drops a pin taken by Busy. It must be called with the list
	// lock held.
	Unbusy(v Volume)
}

var (
	// ErrAcquireFailed means a Node could not be obtained.
	ErrAcquireFailed = errors.New("could not acquire volume node")

	// ErrReadFailed wraps I/O errors reading a volume.
	ErrReadFailed = errors.New("volume read failed")

	// ErrReleased is returned by a Handle after Release.
	ErrReleased = errors.New("handle already released")
)
