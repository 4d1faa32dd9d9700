package wu

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// cacheSlots is the number of in-memory compile cache slots.
const cacheSlots = 256

// cacheEntry is one compiled body, keyed by the hash of its source path
// and the source file's mtime at the instant of insertion.
type cacheEntry struct {
	pathHash uint64
	mtime    int64
	body     []byte
}

// compileCache is the two-level compile cache: a bounded in-memory ring in
// front of best-effort on-disk persistence. A cached body is only ever
// served while the source file's mtime still matches; stale entries are
// invalidated on read.
type compileCache struct {
	s *Server

	mutex   sync.Mutex
	entries [cacheSlots]cacheEntry
	next    int

	loadOnce sync.Once
	dir      string
	useDisk  bool
}

// newCompileCache returns a new instance of the `compileCache` with the s.
func newCompileCache(s *Server) *compileCache {
	return &compileCache{s: s}
}

// load prepares the on-disk level on first use. Failure silently degrades
// the cache to memory only.
func (c *compileCache) load() {
	c.loadOnce.Do(func() {
		c.dir = c.s.CacheRoot
		if err := os.MkdirAll(c.dir, 0o755); err == nil {
			c.useDisk = true
		}
	})
}

// hashPath hashes a source path into the cache's 64-bit key space. The
// collision domain is per cache instance and every hit is re-verified
// against the file's mtime, so a non-cryptographic hash is enough.
func hashPath(path string) uint64 {
	return xxhash.Sum64String(path)
}

// diskPath returns the on-disk cache file for the hash.
func (c *compileCache) diskPath(hash uint64) string {
	return filepath.Join(c.dir, fmt.Sprintf("%016x.dat", hash))
}

// get returns a freshly-owned copy of the cached body for the path at the
// mtime, or nil when no valid entry exists.
func (c *compileCache) get(path string, mtime int64) []byte {
	c.load()
	hash := hashPath(path)

	c.mutex.Lock()
	for i := range c.entries {
		e := &c.entries[i]
		if e.body == nil || e.pathHash != hash {
			continue
		}

		if e.mtime != mtime {
			e.body = nil
			break
		}

		b := append([]byte{}, e.body...)
		c.mutex.Unlock()
		return b
	}
	c.mutex.Unlock()

	if !c.useDisk {
		return nil
	}

	b, err := os.ReadFile(c.diskPath(hash))
	if err != nil {
		return nil
	}

	nl := bytes.IndexByte(b, '\n')
	if nl < 0 {
		return nil
	}

	diskMtime, err := strconv.ParseInt(string(b[:nl]), 10, 64)
	if err != nil || diskMtime != mtime {
		return nil
	}

	body := b[nl+1:]
	c.insert(hash, mtime, append([]byte{}, body...))

	return append([]byte{}, body...)
}

// put stores the body for the path at the mtime in both levels. Disk
// errors are swallowed; an entry that cannot be persisted only means the
// next restart recompiles.
func (c *compileCache) put(path string, mtime int64, body []byte) {
	c.load()
	hash := hashPath(path)
	c.insert(hash, mtime, append([]byte{}, body...))

	if !c.useDisk {
		return
	}

	b := make([]byte, 0, len(body)+24)
	b = strconv.AppendInt(b, mtime, 10)
	b = append(b, '\n')
	b = append(b, body...)
	_ = os.WriteFile(c.diskPath(hash), b, 0o644)
}

// insert places the body into the in-memory ring, replacing a prior entry
// for the same hash when one exists and recycling the next round-robin
// slot otherwise.
func (c *compileCache) insert(hash uint64, mtime int64, body []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for i := range c.entries {
		if c.entries[i].body != nil && c.entries[i].pathHash == hash {
			c.entries[i].mtime = mtime
			c.entries[i].body = body
			return
		}
	}

	c.entries[c.next] = cacheEntry{
		pathHash: hash,
		mtime:    mtime,
		body:     body,
	}
	c.next = (c.next + 1) % cacheSlots
}

// teardown releases every in-memory body.
func (c *compileCache) teardown() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for i := range c.entries {
		c.entries[i] = cacheEntry{}
	}
}

// fileMTime returns the mtime of the file at the path in nanoseconds.
func fileMTime(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	return fi.ModTime().UnixNano(), nil
}
