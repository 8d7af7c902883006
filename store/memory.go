package store

import (
	"bytes"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// List returns a channel giving every key in the store.
func (ms *Memory) List() <-chan string {
	ms.m.RLock()
	keys := make([]string, 0, len(ms.store))
	for k := range ms.store {
		keys = append(keys, k)
	}
	ms.m.RUnlock()

	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// ListPrefix returns the sorted keys which begin with the given prefix.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	return collect(ms.List(), prefix), nil
}

// Open returns the value of key. Values are never modified in place, so the
// reader stays valid even if key is deleted.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, errors.Wrap(ErrNotExist, key)
	}
	return nopCloser{bytes.NewReader(v)}, int64(len(v)), nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// Create returns a writer for a new value. It is stored when the writer is
// closed.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	ms.m.RLock()
	_, ok := ms.store[key]
	ms.m.RUnlock()
	if ok {
		return nil, ErrKeyExists
	}
	return &memWriter{ms: ms, key: key}, nil
}

type memWriter struct {
	bytes.Buffer
	ms     *Memory
	key    string
	closed bool
}

func (w *memWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.ms.m.Lock()
	defer w.ms.m.Unlock()
	if _, ok := w.ms.store[w.key]; ok {
		return ErrKeyExists
	}
	w.ms.store[w.key] = w.Bytes()
	return nil
}

// Delete the given key from the store. It is not an error if the item does
// not exist in the store.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}
