package store

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// A sizecache remembers the size of remote objects, or that they do not
// exist, so repeated opens do not each cost a HEAD request. Missing keys are
// forgotten sooner than present ones.
type sizecache struct {
	m       sync.Mutex
	entries map[string]sizeEntry
	hitTTL  time.Duration
	missTTL time.Duration
}

type sizeEntry struct {
	size   int64 // sizeMissing if the key does not exist
	expire time.Time
}

const (
	sizeMissing int64 = -1

	defaultHitTTL  = 240 * time.Hour
	defaultMissTTL = 5 * time.Minute

	// sweep expired entries once the cache grows past this
	sweepLimit = 10000
)

func newSizeCache() *sizecache {
	return &sizecache{
		entries: make(map[string]sizeEntry),
		hitTTL:  defaultHitTTL,
		missTTL: defaultMissTTL,
	}
}

// Get returns the size of key, calling fill if it is not cached. fill should
// return an error wrapping ErrNotExist for a missing key; that answer is
// cached too. The lock is not held while fill runs.
func (c *sizecache) Get(key string, fill func(string) (int64, error)) (int64, error) {
	c.m.Lock()
	e, ok := c.entries[key]
	if ok && time.Now().After(e.expire) {
		delete(c.entries, key)
		ok = false
	}
	c.m.Unlock()
	if ok {
		if e.size == sizeMissing {
			return 0, errors.Wrap(ErrNotExist, key)
		}
		return e.size, nil
	}
	size, err := fill(key)
	switch {
	case err == nil:
		c.Set(key, size)
	case errors.Is(err, ErrNotExist):
		c.Set(key, sizeMissing)
	}
	return size, err
}

// Set records the size of key. Use sizeMissing for a deleted key.
func (c *sizecache) Set(key string, size int64) {
	ttl := c.hitTTL
	if size == sizeMissing {
		ttl = c.missTTL
	}
	now := time.Now()
	c.m.Lock()
	defer c.m.Unlock()
	if len(c.entries) >= sweepLimit {
		for k, e := range c.entries {
			if now.After(e.expire) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = sizeEntry{size: size, expire: now.Add(ttl)}
}

// Forget drops whatever is known about key.
func (c *sizecache) Forget(key string) {
	c.m.Lock()
	delete(c.entries, key)
	c.m.Unlock()
}
