// Package blobcache caches file contents extracted from dump containers. It
// is backed by a store, so it can be entirely in memory or disk-backed.
//
// While the cached contents are kept in the store, the list recording usage
// is kept only in memory. On startup the items already in the store are
// enumerated by Scan and added to the list in an undetermined order.
package blobcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ndlib/obfw/store"
)

// Cache is the interface shared by LRU and EmptyCache.
type Cache interface {
	Contains(key string) bool

	// Get returns the cached content of key. A miss is not an error; it
	// returns a nil ReadAtCloser.
	Get(key string) (store.ReadAtCloser, int64, error)

	// Put returns a writer adding key to the cache. The item is only added
	// once the writer is closed without error.
	Put(key string) (io.WriteCloser, error)
}

// Key returns the cache key for a file inside a dump container.
func Key(container string, partition int, path string) string {
	h := sha256.New()
	io.WriteString(h, container)
	h.Write([]byte{0, byte(partition >> 8), byte(partition), 0})
	io.WriteString(h, path)
	return hex.EncodeToString(h.Sum(nil))
}

var (
	// ErrCacheFull means an item is larger than the whole cache.
	ErrCacheFull = errors.New("cache is full and no more items can be removed")

	// ErrPending means another Put for the same key is still open.
	ErrPending = errors.New("item is being added already")
)

// LRU is a cache of bounded size, evicting the least recently used items
// first.
type LRU struct {
	// this is the place where cached items are stored
	s store.Store

	m       sync.Mutex // protects everything below
	size    int64      // bytes used or reserved
	maxSize int64
	lru     *list.List               // front is MRU; values are entry
	index   map[string]*list.Element // key -> element of lru
	pending map[string]struct{}      // keys with an open Put
}

type entry struct {
	key  string
	size int64
}

var _ Cache = &LRU{}

// NewLRU returns a cache using at most maxSize bytes of s. The store may
// already have items in it; call Scan to account for them.
func NewLRU(s store.Store, maxSize int64) *LRU {
	return &LRU{
		s:       s,
		maxSize: maxSize,
		lru:     list.New(),
		index:   make(map[string]*list.Element),
		pending: make(map[string]struct{}),
	}
}

// Scan adds the items already in the store to the cache, deleting whatever
// does not fit. It blocks until it is finished.
func (t *LRU) Scan() {
	for key := range t.s.List() {
		if t.Contains(key) {
			continue
		}
		rc, size, err := t.s.Open(key)
		if err != nil {
			continue
		}
		rc.Close()
		if err := t.reserve(size); err != nil {
			// this item is too big for the cache.
			t.s.Delete(key)
			continue
		}
		t.m.Lock()
		t.index[key] = t.lru.PushBack(entry{key: key, size: size})
		t.m.Unlock()
	}
	logrus.WithFields(logrus.Fields{"module": "blobcache", "size": t.Size()}).Infoln("scan finished")
}

// Contains reports whether key is in the cache. It does not update the LRU
// status, and does not guarantee the item will still be there when Get is
// called.
func (t *LRU) Contains(key string) bool {
	t.m.Lock()
	defer t.m.Unlock()
	_, ok := t.index[key]
	return ok
}

// Size returns the number of bytes used by the cache.
func (t *LRU) Size() int64 {
	t.m.Lock()
	defer t.m.Unlock()
	return t.size
}

func (t *LRU) Get(key string) (store.ReadAtCloser, int64, error) {
	t.m.Lock()
	e, ok := t.index[key]
	if ok {
		t.lru.MoveToFront(e)
	}
	t.m.Unlock()
	if !ok {
		return nil, 0, nil
	}
	rc, size, err := t.s.Open(key)
	if errors.Is(err, store.ErrNotExist) {
		// someone removed it behind our back
		t.forget(key)
		return nil, 0, nil
	}
	return rc, size, err
}

// Put returns a WriteCloser which saves what is written to it under key.
// Items are evicted from the cache as content is written. Only one Put for a
// key may be open at a time, and Put fails for a key already cached.
func (t *LRU) Put(key string) (io.WriteCloser, error) {
	t.m.Lock()
	_, busy := t.pending[key]
	_, cached := t.index[key]
	if !busy && !cached {
		t.pending[key] = struct{}{}
	}
	t.m.Unlock()
	switch {
	case busy:
		return nil, ErrPending
	case cached:
		return nil, store.ErrKeyExists
	}
	w, err := t.s.Create(key)
	if err != nil {
		t.m.Lock()
		delete(t.pending, key)
		t.m.Unlock()
		return nil, err
	}
	return &writer{parent: t, key: key, w: w}, nil
}

func (t *LRU) forget(key string) {
	t.m.Lock()
	if e, ok := t.index[key]; ok {
		t.size -= t.lru.Remove(e).(entry).size
		delete(t.index, key)
	}
	t.m.Unlock()
}

// reserve space for the passed in size, evicting items if necessary to stay
// under maxSize. Size can be negative to cancel a previous reservation.
// Nothing is reserved if there is an error.
func (t *LRU) reserve(size int64) error {
	t.m.Lock()
	defer t.m.Unlock()

	t.size += size
	for t.size > t.maxSize {
		e := t.lru.Back()
		if e == nil {
			t.size -= size
			return ErrCacheFull
		}
		victim := t.lru.Remove(e).(entry)
		delete(t.index, victim.key)
		if err := t.s.Delete(victim.key); err != nil {
			t.size -= size
			return err
		}
		t.size -= victim.size
	}
	return nil
}

func (t *LRU) save(w *writer) {
	t.m.Lock()
	delete(t.pending, w.key)
	t.index[w.key] = t.lru.PushFront(entry{key: w.key, size: w.size})
	t.m.Unlock()
}

func (t *LRU) discard(w *writer) {
	t.s.Delete(w.key)
	t.m.Lock()
	delete(t.pending, w.key)
	t.size -= w.size
	t.m.Unlock()
}
