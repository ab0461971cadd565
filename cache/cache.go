// Package cache is the sector cache between the inode layer and the block
// device: at most 64 entries, keyed by sector number, kept in LRU order,
// flushed by a background write-behind daemon.
package cache

import (
	"container/list"
	"encoding/binary"
	"sync"
	"time"

	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/disk"
	"github.com/tugui/pintos/thread"
	"github.com/tugui/pintos/util"
)

// Capacity of the cache, in entries.
const CacheSize = 64

// Write-behind sleeps 30 timer ticks between flushes.
const writeBehindPeriod = 30 * 10 * time.Millisecond

type Entry struct {
	Sector common.Snum
	Data   []byte

	dirty     bool
	inUse     bool // pinned; never selected for eviction
	readahead bool
	owner     *thread.Thread // weak: never closed through the cache
	elem      *list.Element
}

type Cache struct {
	mu      sync.Mutex
	d       disk.Disk
	entries map[common.Snum]*Entry
	lru     *list.List // front = least recently used

	shutdown chan struct{}
	done     chan struct{}
}

// MkCache creates a cache over d and starts its write-behind daemon.
func MkCache(d disk.Disk) *Cache {
	return mkCache(d, writeBehindPeriod)
}

func mkCache(d disk.Disk, period time.Duration) *Cache {
	c := &Cache{
		d:        d,
		entries:  make(map[common.Snum]*Entry),
		lru:      list.New(),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.writeBehind(period)
	return c
}

// Get returns the pinned entry for sector, reading it from the device on a
// miss. On a full cache the least-recently-used unpinned entry is evicted
// (written back first if dirty). Returns nil only when every entry is
// pinned; callers treat that as a transient failure. The caller must
// Release the entry when done.
func (c *Cache) Get(t *thread.Thread, sector common.Snum) *Entry {
	c.mu.Lock()
	if e, ok := c.entries[sector]; ok {
		c.lru.MoveToBack(e.elem)
		e.inUse = true
		c.mu.Unlock()
		return e
	}

	var e *Entry
	if len(c.entries) < CacheSize {
		e = &Entry{Data: make([]byte, disk.SectorSize)}
	} else {
		e = c.evict()
		if e == nil {
			c.mu.Unlock()
			util.DPrintf(1, "cache: all %d entries in use\n", CacheSize)
			return nil
		}
	}
	c.mu.Unlock()

	// Block I/O runs with the lock released; the entry is published only
	// after the fill. Concurrent misses for the same sector may both read
	// the device; the loser's fill is dropped below (both are identical).
	c.d.ReadTo(sector, e.Data)

	c.mu.Lock()
	if other, ok := c.entries[sector]; ok {
		c.lru.MoveToBack(other.elem)
		other.inUse = true
		c.mu.Unlock()
		return other
	}
	e.Sector = sector
	e.dirty = false
	e.inUse = true
	e.readahead = false
	e.owner = t
	c.entries[sector] = e
	e.elem = c.lru.PushBack(e)
	c.mu.Unlock()
	return e
}

// evict removes and returns the first unpinned entry in LRU order, writing
// it back if dirty. Caller holds c.mu.
func (c *Cache) evict() *Entry {
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if e.inUse {
			continue
		}
		if e.dirty {
			c.d.Write(e.Sector, e.Data)
		}
		delete(c.entries, e.Sector)
		c.lru.Remove(el)
		util.DPrintf(5, "cache: evict %d\n", e.Sector)
		return e
	}
	return nil
}

// Release unpins an entry returned by Get.
func (c *Cache) Release(e *Entry) {
	c.mu.Lock()
	e.inUse = false
	c.mu.Unlock()
}

// Find returns the entry for sector without pinning it or touching LRU
// order, or nil if the sector is not cached.
func (c *Cache) Find(sector common.Snum) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[sector]
}

// Free drops the entry for sector, writing it back first if dirty.
func (c *Cache) Free(sector common.Snum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sector]
	if !ok {
		return
	}
	if e.dirty {
		c.d.Write(e.Sector, e.Data)
	}
	delete(c.entries, sector)
	c.lru.Remove(e.elem)
}

// Clear writes back every dirty entry and empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if e.dirty {
			c.d.Write(e.Sector, e.Data)
		}
		delete(c.entries, e.Sector)
	}
	c.lru.Init()
}

// FreeOwnedBy drops every entry created by t, writing dirty ones back.
func (c *Cache) FreeOwnedBy(t *thread.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el := c.lru.Front()
	for el != nil {
		next := el.Next()
		e := el.Value.(*Entry)
		if e.owner == t {
			if e.dirty {
				c.d.Write(e.Sector, e.Data)
			}
			delete(c.entries, e.Sector)
			c.lru.Remove(el)
		}
		el = next
	}
}

// Read copies size bytes at off within sector into buf.
// Reports false when the cache is saturated with pinned entries.
func (c *Cache) Read(t *thread.Thread, sector common.Snum, buf []byte, off int, size int) bool {
	e := c.Get(t, sector)
	if e == nil {
		return false
	}
	c.mu.Lock()
	copy(buf[:size], e.Data[off:off+size])
	e.inUse = false
	c.mu.Unlock()
	return true
}

// Write copies size bytes from buf into sector at off and marks it dirty.
func (c *Cache) Write(t *thread.Thread, sector common.Snum, buf []byte, off int, size int) bool {
	e := c.Get(t, sector)
	if e == nil {
		return false
	}
	c.mu.Lock()
	copy(e.Data[off:off+size], buf[:size])
	e.dirty = true
	e.inUse = false
	c.mu.Unlock()
	return true
}

// ReadU32 reads the little-endian u32 at byte position pos within sector.
func (c *Cache) ReadU32(t *thread.Thread, sector common.Snum, pos int) uint32 {
	e := c.Get(t, sector)
	if e == nil {
		return 0
	}
	c.mu.Lock()
	v := binary.LittleEndian.Uint32(e.Data[pos:])
	e.inUse = false
	c.mu.Unlock()
	return v
}

// WriteU32 stores a little-endian u32 at byte position pos within sector.
func (c *Cache) WriteU32(t *thread.Thread, sector common.Snum, pos int, value uint32) bool {
	e := c.Get(t, sector)
	if e == nil {
		return false
	}
	c.mu.Lock()
	binary.LittleEndian.PutUint32(e.Data[pos:], value)
	e.dirty = true
	e.inUse = false
	c.mu.Unlock()
	return true
}

// Memset fills size bytes of sector at off with value and marks it dirty.
func (c *Cache) Memset(t *thread.Thread, sector common.Snum, value byte, off int, size int) bool {
	e := c.Get(t, sector)
	if e == nil {
		return false
	}
	c.mu.Lock()
	for i := off; i < off+size; i++ {
		e.Data[i] = value
	}
	e.dirty = true
	e.inUse = false
	c.mu.Unlock()
	return true
}

// Readahead reports whether sector carries the readahead marker.
func (c *Cache) Readahead(sector common.Snum) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sector]
	return ok && e.readahead
}

// SetReadahead marks sector as the lookahead point of an async window.
func (c *Cache) SetReadahead(sector common.Snum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[sector]; ok {
		e.readahead = true
	}
}

func (c *Cache) ClearReadahead(sector common.Snum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[sector]; ok {
		e.readahead = false
	}
}

// Flush writes every dirty entry back and clears its dirty flag, taking the
// cache lock once.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if e.dirty {
			c.d.Write(e.Sector, e.Data)
			e.dirty = false
		}
	}
}

// writeBehind periodically flushes dirty entries until Shutdown.
func (c *Cache) writeBehind(period time.Duration) {
	for {
		select {
		case <-c.shutdown:
			util.DPrintf(1, "write-behind: shutdown\n")
			close(c.done)
			return
		case <-time.After(period):
			c.Flush()
		}
	}
}

// Shutdown stops the write-behind daemon. The cache remains usable.
func (c *Cache) Shutdown() {
	close(c.shutdown)
	<-c.done
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
