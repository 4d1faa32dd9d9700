package wu

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// testCache returns a compile cache rooted in a fresh temp directory.
func testCache(t *testing.T) (*compileCache, string) {
	t.Helper()
	s := New()
	s.CacheRoot = filepath.Join(t.TempDir(), ".wu-cache")
	return newCompileCache(s), s.CacheRoot
}

func TestCacheRoundTrip(t *testing.T) {
	c, _ := testCache(t)

	c.put("a/b.tsx", 1700000000, []byte("OUT"))
	assert.Equal(t, []byte("OUT"), c.get("a/b.tsx", 1700000000))
}

func TestCacheMtimeMismatch(t *testing.T) {
	c, _ := testCache(t)

	c.put("a/b.tsx", 1, []byte("OUT"))
	assert.Nil(t, c.get("a/b.tsx", 2))
}

func TestCacheOwnedBodies(t *testing.T) {
	c, _ := testCache(t)

	body := []byte("OUT")
	c.put("p", 1, body)
	body[0] = '!'

	got := c.get("p", 1)
	assert.Equal(t, []byte("OUT"), got)

	got[0] = '?'
	assert.Equal(t, []byte("OUT"), c.get("p", 1))
}

func TestCacheSurvivesRestart(t *testing.T) {
	c, root := testCache(t)
	c.put("a/b.tsx", 1700000000, []byte("OUT"))

	// A new instance over the same directory stands in for a process
	// restart.
	s := New()
	s.CacheRoot = root
	c2 := newCompileCache(s)
	assert.Equal(t, []byte("OUT"), c2.get("a/b.tsx", 1700000000))
}

func TestCacheReplaceSamePath(t *testing.T) {
	c, _ := testCache(t)

	c.put("p", 1, []byte("ONE"))
	c.put("p", 2, []byte("TWO"))
	assert.Nil(t, c.get("p", 1))
	assert.Equal(t, []byte("TWO"), c.get("p", 2))
}

func TestCacheRingEviction(t *testing.T) {
	c, _ := testCache(t)
	c.useDisk = false
	c.loadOnce.Do(func() {})

	for i := 0; i < cacheSlots+8; i++ {
		c.put(fmt.Sprintf("p%d", i), 1, []byte{byte(i)})
	}

	// The oldest slots were recycled; the youngest survive.
	assert.Nil(t, c.get("p0", 1))
	last := fmt.Sprintf("p%d", cacheSlots+7)
	assert.NotNil(t, c.get(last, 1))
}

func TestCacheDiskLayout(t *testing.T) {
	c, root := testCache(t)
	c.put("x.js", 42, []byte("BODY"))

	b, err := os.ReadFile(c.diskPath(hashPath("x.js")))
	assert.NoError(t, err)
	assert.Equal(t, "42\nBODY", string(b))
	assert.DirExists(t, root)
}

func TestCacheTeardown(t *testing.T) {
	c, _ := testCache(t)
	c.useDisk = false
	c.loadOnce.Do(func() {})

	c.put("p", 1, []byte("OUT"))
	c.teardown()
	assert.Nil(t, c.get("p", 1))
}
