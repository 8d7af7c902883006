package blobcache

import (
	"io"
)

// saver is what a writer expects to communicate with as a new item is
// copied into the cache.
type saver interface {
	save(w *writer)      // new item has been successfully copied
	reserve(int64) error // gets more space on each call to Write
	discard(w *writer)   // new item had an error while being copied
}

// writer provides a way to write a new item into the cache.
type writer struct {
	parent saver
	key    string
	w      io.WriteCloser
	size   int64 // bytes reserved
	failed bool
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	// reserve first so we never have more than maxSize in cache
	if err := w.parent.reserve(int64(len(p))); err != nil {
		w.failed = true
		return 0, err
	}
	w.size += int64(len(p))
	n, err := w.w.Write(p)
	if err != nil {
		w.failed = true
	}
	return n, err
}

// Close adds the item to the cache, unless a Write failed.
func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.w.Close()
	if err != nil || w.failed {
		w.parent.discard(w)
		return err
	}
	w.parent.save(w)
	return nil
}

// Abort closes the writer without adding the item, e.g. because the data
// source failed part way.
func (w *writer) Abort() {
	w.failed = true
	w.Close()
}
