package blobcache

import (
	"io"
	"io/ioutil"

	"github.com/ndlib/obfw/store"
)

// EmptyCache stores no extracted files. A server configured with it
// streams every request directly out of the container.
type EmptyCache struct{}

var _ Cache = EmptyCache{}

func (EmptyCache) Contains(key string) bool { return false }

// Get reports a miss by returning a nil reader and a nil error.
func (EmptyCache) Get(key string) (store.ReadAtCloser, int64, error) {
	return nil, 0, nil
}

// Put accepts the extracted bytes and drops them.
func (EmptyCache) Put(key string) (io.WriteCloser, error) {
	return discardWriter{}, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return ioutil.Discard.Write(p) }
func (discardWriter) Close() error                { return nil }
