package volume

import (
	"io"

	"github.com/ndlib/obfw/util"
)

// A Handle owns the reference of one Node. Release drops the reference the
// first time it is called and does nothing afterwards, so it is safe to both
// defer it and call it early. Releasing a Handle never touches the Handle it
// was looked up from.
//
// A Handle is not safe for concurrent use.
type Handle struct {
	node Node
}

// Acquire calls open and wraps the Node it returns. A failure is reported as
// ErrAcquireFailed.
func Acquire(open func() (Node, error)) (*Handle, error) {
	n, err := open()
	if err != nil {
		return nil, util.Classify(ErrAcquireFailed, err)
	}
	return &Handle{node: n}, nil
}

// Root acquires the root directory of v.
func Root(v Volume) (*Handle, error) {
	return Acquire(v.Root)
}

// Lookup acquires the named child of the directory h refers to.
func (h *Handle) Lookup(name string) (*Handle, error) {
	if h.node == nil {
		return nil, ErrReleased
	}
	return Acquire(func() (Node, error) { return h.node.Lookup(name) })
}

// Type returns the type of the node, or TypeOther once released.
func (h *Handle) Type() NodeType {
	if h.node == nil {
		return TypeOther
	}
	return h.node.Type()
}

// ReadDir forwards to Node.ReadDir, reporting failures as ErrReadFailed.
func (h *Handle) ReadDir(cookie int64, max int) ([]DirEntry, int64, bool, error) {
	if h.node == nil {
		return nil, cookie, false, ErrReleased
	}
	ents, next, eof, err := h.node.ReadDir(cookie, max)
	return ents, next, eof, util.Classify(ErrReadFailed, err)
}

// ReadAt forwards to Node.ReadAt. io.EOF is passed through unchanged; other
// failures are reported as ErrReadFailed.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h.node == nil {
		return 0, ErrReleased
	}
	n, err := h.node.ReadAt(p, off)
	if err != nil && !isEOF(err) {
		err = util.Classify(ErrReadFailed, err)
	}
	return n, err
}

// Release drops the node reference. Only the first call has an effect.
func (h *Handle) Release() {
	if h.node == nil {
		return
	}
	n := h.node
	h.node = nil
	n.Release()
}

func isEOF(err error) bool {
	return err == io.EOF
}
