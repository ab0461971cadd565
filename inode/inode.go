// Package inode implements the on-disk file layout: a sector-sized inode
// with direct, single-indirect, and double-indirect index tiers, demand
// extension on write, and a sequential-read prefetch policy over the sector
// cache.
package inode

import (
	"sync"

	"github.com/tugui/pintos/cache"
	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/disk"
	"github.com/tugui/pintos/lockmap"
	"github.com/tugui/pintos/thread"
	"github.com/tugui/pintos/util"
)

// Allocator hands out device sectors. The free map implements it; keeping
// it an interface lets the free map itself live in a file managed by this
// engine.
type Allocator interface {
	Allocate() (common.Snum, bool)
	Release(s common.Snum)
}

// Engine anchors the open-inode table and the per-inode write locks.
type Engine struct {
	mu    sync.Mutex // guards open table and handle counters
	c     *cache.Cache
	fm    Allocator
	locks *lockmap.LockMap
	open  map[common.Snum]*Inode
}

func MkEngine(c *cache.Cache, fm Allocator) *Engine {
	return &Engine{
		c:     c,
		fm:    fm,
		locks: lockmap.MkLockMap(),
		open:  make(map[common.Snum]*Inode),
	}
}

// Inode is a reference-counted handle to an on-disk inode. Opening the same
// sector twice returns the same handle.
type Inode struct {
	eng          *Engine
	Sector       common.Snum
	openCnt      int
	removed      bool
	denyWriteCnt int
}

func bytesToSectors(n int64) int64 {
	return util.RoundUp(n, int64(disk.SectorSize))
}

// Create initializes an inode of the given length and type at sector, which
// the caller has already allocated, and zero-fills exactly
// ceil(length/SectorSize) data sectors across the index tiers. On any
// allocation failure every sector acquired in this call is released and
// Create reports false.
func (eng *Engine) Create(t *thread.Thread, sector common.Snum, length int64, typ Type) bool {
	if length < 0 || length > MaxLen {
		return false
	}
	d := &diskInode{Length: uint32(length), Type: typ}
	var u undo
	n := bytesToSectors(length)
	for i := int64(0); i < n; i++ {
		s, ok := eng.allocZeroed(t, &u)
		if !ok || !eng.link(t, d, i, s, &u) {
			eng.rollback(t, &u)
			return false
		}
	}
	eng.c.Write(t, sector, d.encode(), 0, int(disk.SectorSize))
	util.DPrintf(2, "inode: create %d len %d\n", sector, length)
	return true
}

// Open returns a handle on the inode at sector, interning it so a second
// open of the same sector shares the handle.
func (eng *Engine) Open(t *thread.Thread, sector common.Snum) *Inode {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if ino, ok := eng.open[sector]; ok {
		ino.openCnt++
		return ino
	}
	ino := &Inode{eng: eng, Sector: sector, openCnt: 1}
	eng.open[sector] = ino
	return ino
}

// Reopen takes another reference on an open handle.
func (ino *Inode) Reopen() *Inode {
	if ino == nil {
		return nil
	}
	ino.eng.mu.Lock()
	ino.openCnt++
	ino.eng.mu.Unlock()
	return ino
}

// Close drops a reference. The last close of a removed inode releases every
// sector the file occupies, including the inode sector itself.
func (ino *Inode) Close(t *thread.Thread) {
	if ino == nil {
		return
	}
	eng := ino.eng
	eng.mu.Lock()
	ino.openCnt--
	if ino.openCnt > 0 {
		eng.mu.Unlock()
		return
	}
	delete(eng.open, ino.Sector)
	removed := ino.removed
	eng.mu.Unlock()

	if removed {
		sectors := bytesToSectors(ino.Length(t))
		d := eng.readInode(t, ino.Sector)
		eng.freeSectors(t, d, sectors)
		eng.fm.Release(ino.Sector)
		eng.c.Free(ino.Sector)
	}
}

// Remove marks the inode to be deleted at last close.
func (ino *Inode) Remove() {
	ino.eng.mu.Lock()
	ino.removed = true
	ino.eng.mu.Unlock()
}

// OpenCount reports the number of outstanding handles.
func (ino *Inode) OpenCount() int {
	ino.eng.mu.Lock()
	defer ino.eng.mu.Unlock()
	return ino.openCnt
}

// Inumber returns the sector number identifying the inode.
func (ino *Inode) Inumber() common.Snum {
	return ino.Sector
}

// Length returns the file size in bytes, read through the cache.
func (ino *Inode) Length(t *thread.Thread) int64 {
	return int64(ino.eng.c.ReadU32(t, ino.Sector, lengthOff))
}

func (ino *Inode) IsDir(t *thread.Thread) bool {
	return Type(ino.eng.c.ReadU32(t, ino.Sector, typeOff)) == Dir
}

// DenyWrite disables writes through this inode.
// May be called at most once per opener.
func (ino *Inode) DenyWrite() {
	ino.eng.mu.Lock()
	defer ino.eng.mu.Unlock()
	ino.denyWriteCnt++
	if ino.denyWriteCnt > ino.openCnt {
		panic("inode: DenyWrite without matching open")
	}
}

// AllowWrite re-enables writes; must pair with an earlier DenyWrite.
func (ino *Inode) AllowWrite() {
	ino.eng.mu.Lock()
	defer ino.eng.mu.Unlock()
	if ino.denyWriteCnt <= 0 || ino.denyWriteCnt > ino.openCnt {
		panic("inode: AllowWrite without DenyWrite")
	}
	ino.denyWriteCnt--
}

func (ino *Inode) writeDenied() bool {
	ino.eng.mu.Lock()
	defer ino.eng.mu.Unlock()
	return ino.denyWriteCnt > 0
}

// readInode decodes the on-disk inode image at sector. Panics on a bad
// magic number.
func (eng *Engine) readInode(t *thread.Thread, sector common.Snum) *diskInode {
	buf := make([]byte, disk.SectorSize)
	eng.c.Read(t, sector, buf, 0, int(disk.SectorSize))
	return decodeInode(buf)
}

// findSector maps a file sector index to its device sector, walking the
// index tiers through the cache. Returns SectorError for a hole or an index
// beyond the double-indirect maximum.
func (eng *Engine) findSector(t *thread.Thread, ino *Inode, index int64) common.Snum {
	c := eng.c
	switch {
	case index < singleBase:
		if s := c.ReadU32(t, ino.Sector, int(4*index)); s != 0 {
			return s
		}
	case index < doubleBase:
		l1 := c.ReadU32(t, ino.Sector, 4*DirectCnt)
		if l1 == 0 {
			break
		}
		if s := c.ReadU32(t, l1, int(4*(index-singleBase))); s != 0 {
			return s
		}
	case index < MaxSectors:
		l1 := c.ReadU32(t, ino.Sector, 4*(DirectCnt+1))
		if l1 == 0 {
			break
		}
		o := index - doubleBase
		l2 := c.ReadU32(t, l1, int(4*(o/IndirectCnt)))
		if l2 == 0 {
			break
		}
		if s := c.ReadU32(t, l2, int(4*(o%IndirectCnt))); s != 0 {
			return s
		}
	}
	return common.SectorError
}

// byteToSector returns the device sector holding byte offset pos, or
// SectorError when pos is at or past length.
func (eng *Engine) byteToSector(t *thread.Thread, ino *Inode, length int64, pos int64) common.Snum {
	if pos < length {
		return eng.findSector(t, ino, pos>>common.SectorShift)
	}
	return common.SectorError
}

// undo records what an allocation pass has done so a failure can unwind it:
// sectors acquired from the free map, and index-block pointer slots written
// through the cache.
type undo struct {
	got   []common.Snum
	slots []slotWrite
}

type slotWrite struct {
	sector common.Snum
	off    int
}

func (eng *Engine) rollback(t *thread.Thread, u *undo) {
	for _, w := range u.slots {
		eng.c.WriteU32(t, w.sector, w.off, 0)
	}
	for _, s := range u.got {
		eng.fm.Release(s)
	}
}

// allocZeroed acquires a sector and zero-fills it through the cache.
func (eng *Engine) allocZeroed(t *thread.Thread, u *undo) (common.Snum, bool) {
	s, ok := eng.fm.Allocate()
	if !ok {
		return 0, false
	}
	eng.c.Memset(t, s, 0, 0, int(disk.SectorSize))
	u.got = append(u.got, s)
	return s, true
}

// link installs data sector s as file sector index of d, allocating index
// blocks as needed. Index-block slot writes go through the cache and are
// recorded for rollback; slots inside d itself are in memory until the
// caller writes the inode image.
func (eng *Engine) link(t *thread.Thread, d *diskInode, index int64, s common.Snum, u *undo) bool {
	c := eng.c
	switch {
	case index < singleBase:
		d.Sectors[index] = s
	case index < doubleBase:
		if d.Sectors[DirectCnt] == 0 {
			n, ok := eng.allocZeroed(t, u)
			if !ok {
				return false
			}
			d.Sectors[DirectCnt] = n
		}
		off := int(4 * (index - singleBase))
		c.WriteU32(t, d.Sectors[DirectCnt], off, s)
		u.slots = append(u.slots, slotWrite{d.Sectors[DirectCnt], off})
	case index < MaxSectors:
		if d.Sectors[DirectCnt+1] == 0 {
			n, ok := eng.allocZeroed(t, u)
			if !ok {
				return false
			}
			d.Sectors[DirectCnt+1] = n
		}
		o := index - doubleBase
		l1off := int(4 * (o / IndirectCnt))
		l2 := c.ReadU32(t, d.Sectors[DirectCnt+1], l1off)
		if l2 == 0 {
			n, ok := eng.allocZeroed(t, u)
			if !ok {
				return false
			}
			l2 = n
			c.WriteU32(t, d.Sectors[DirectCnt+1], l1off, l2)
			u.slots = append(u.slots, slotWrite{d.Sectors[DirectCnt+1], l1off})
		}
		off := int(4 * (o % IndirectCnt))
		c.WriteU32(t, l2, off, s)
		u.slots = append(u.slots, slotWrite{l2, off})
	default:
		return false
	}
	return true
}

// extend allocates and zero-fills the data sectors needed to back
// [curLen, offset+size), rewriting the inode image with the new index
// pointers. The new length is not committed here; WriteAt commits it after
// the data lands. Caller holds the inode's write lock. On failure the
// sectors and index slots written by this call are unwound.
func (eng *Engine) extend(t *thread.Thread, ino *Inode, size int64, offset int64) bool {
	newLen := offset + size
	if newLen > MaxLen {
		return false
	}
	d := eng.readInode(t, ino.Sector)
	var u undo
	n := bytesToSectors(newLen)
	for i := bytesToSectors(int64(d.Length)); i < n; i++ {
		s, ok := eng.allocZeroed(t, &u)
		if !ok || !eng.link(t, d, i, s, &u) {
			eng.rollback(t, &u)
			return false
		}
	}
	eng.c.Write(t, ino.Sector, d.encode(), 0, int(disk.SectorSize))
	util.DPrintf(5, "inode: extend %d to %d bytes\n", ino.Sector, newLen)
	return true
}

// freeSectors releases the first `sectors` data sectors of d plus any index
// blocks backing them, walking the tiers through the cache.
func (eng *Engine) freeSectors(t *thread.Thread, d *diskInode, sectors int64) {
	c := eng.c
	i := int64(0)
	for ; i < sectors && i < singleBase; i++ {
		if d.Sectors[i] != 0 {
			eng.fm.Release(d.Sectors[i])
		}
	}
	if i >= sectors {
		return
	}

	if d.Sectors[DirectCnt] != 0 {
		for ; i < sectors && i < doubleBase; i++ {
			if s := c.ReadU32(t, d.Sectors[DirectCnt], int(4*(i-singleBase))); s != 0 {
				eng.fm.Release(s)
			}
		}
		eng.fm.Release(d.Sectors[DirectCnt])
	} else if i < doubleBase {
		i = doubleBase
	}
	if i >= sectors {
		return
	}

	if d.Sectors[DirectCnt+1] != 0 {
		for i < sectors && i < MaxSectors {
			o := i - doubleBase
			l2 := c.ReadU32(t, d.Sectors[DirectCnt+1], int(4*(o/IndirectCnt)))
			if l2 == 0 {
				i += IndirectCnt - o%IndirectCnt
				continue
			}
			blockEnd := doubleBase + (o/IndirectCnt+1)*IndirectCnt
			for ; i < sectors && i < blockEnd; i++ {
				if s := c.ReadU32(t, l2, int(4*((i-doubleBase)%IndirectCnt))); s != 0 {
					eng.fm.Release(s)
				}
			}
			eng.fm.Release(l2)
		}
		eng.fm.Release(d.Sectors[DirectCnt+1])
	}
}

// ReadAt reads up to len(buf) bytes starting at offset, returning the
// number of bytes read; fewer are returned at end of file. Cache misses and
// readahead markers feed the prefetch policy through ra.
func (ino *Inode) ReadAt(t *thread.Thread, ra *RAState, buf []byte, offset int64) int {
	eng := ino.eng
	size := int64(len(buf))
	bytesRead := int64(0)
	length := ino.Length(t)
	if length == 0 || offset < 0 {
		return 0
	}

	index := offset >> common.SectorShift
	lastIndex := (offset + size + int64(disk.SectorSize) - 1) >> common.SectorShift
	prevIndex := ra.PrevPos >> common.SectorShift
	prevOffset := ra.PrevPos & int64(disk.SectorSize-1)
	sectorOfs := offset & int64(disk.SectorSize-1)

	for size > 0 {
		sector := eng.findSector(t, ino, index)
		if sector != common.SectorError {
			if eng.c.Find(sector) == nil {
				eng.syncReadahead(t, ino, ra, index, lastIndex-index)
			}
			if eng.c.Readahead(sector) {
				eng.asyncReadahead(t, ino, ra, sector, index, lastIndex-index)
			}
		}

		endIndex := (length - 1) >> common.SectorShift
		if index > endIndex {
			break
		}

		sectorLeft := int64(disk.SectorSize)
		if index == endIndex {
			sectorLeft = (length-1)&int64(disk.SectorSize-1) + 1
			if sectorLeft <= sectorOfs {
				break
			}
		}
		sectorLeft -= sectorOfs

		chunk := util.Min(size, sectorLeft)
		if chunk <= 0 || sector == common.SectorError {
			break
		}

		prevIndex = index

		if !eng.c.Read(t, sector, buf[bytesRead:bytesRead+chunk], int(sectorOfs), int(chunk)) {
			break
		}

		sectorOfs += chunk
		index += sectorOfs >> common.SectorShift
		sectorOfs &= int64(disk.SectorSize - 1)
		prevOffset = sectorOfs
		bytesRead += chunk
		size -= chunk
	}

	ra.PrevPos = prevIndex<<common.SectorShift | prevOffset
	return int(bytesRead)
}

// WriteAt writes len(buf) bytes at offset, extending the file first when the
// write lands past the current length. Returns the number of bytes written:
// 0 when writes are denied or the extension cannot be backed by free
// sectors. The new length is committed only after the data is in the cache.
func (ino *Inode) WriteAt(t *thread.Thread, buf []byte, offset int64) int {
	eng := ino.eng
	size := int64(len(buf))
	written := int64(0)

	if ino.writeDenied() || offset < 0 {
		return 0
	}

	locked := false
	length := ino.Length(t)
	if offset+size > length {
		eng.locks.Acquire(uint64(ino.Sector))
		locked = true
		length = ino.Length(t)
	}
	extended := false
	if offset+size > length {
		if !eng.extend(t, ino, size, offset) {
			eng.locks.Release(uint64(ino.Sector))
			return 0
		}
		extended = true
		length = offset + size
	}

	for size > 0 {
		sector := eng.byteToSector(t, ino, length, offset)
		sectorOfs := offset & int64(disk.SectorSize-1)

		inodeLeft := length - offset
		sectorLeft := int64(disk.SectorSize) - sectorOfs
		minLeft := util.Min(inodeLeft, sectorLeft)

		chunk := util.Min(size, minLeft)
		if chunk <= 0 || sector == common.SectorError {
			break
		}

		if !eng.c.Write(t, sector, buf[written:written+chunk], int(sectorOfs), int(chunk)) {
			break
		}

		size -= chunk
		offset += chunk
		written += chunk
	}

	if extended {
		eng.c.WriteU32(t, ino.Sector, lengthOff, uint32(length))
	}
	if locked {
		eng.locks.Release(uint64(ino.Sector))
	}
	return int(written)
}
