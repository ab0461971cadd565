// Package freemap tracks which device sectors are free. The bitmap lives in
// memory and is persisted as a regular file whose inode sits at sector 0.
package freemap

import (
	"github.com/tugui/pintos/alloc"
	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/inode"
	"github.com/tugui/pintos/thread"
	"github.com/tugui/pintos/util"
)

type FreeMap struct {
	bm *alloc.Alloc
}

var _ inode.Allocator = (*FreeMap)(nil)

// MkFreeMap creates a free map for a device of nsectors sectors, with the
// free-map and root-directory sectors already taken.
func MkFreeMap(nsectors common.Snum) *FreeMap {
	fm := &FreeMap{bm: alloc.MkAlloc(uint64(nsectors))}
	fm.bm.MarkUsed(uint64(common.FreeMapSector))
	fm.bm.MarkUsed(uint64(common.RootDirSector))
	return fm
}

// Allocate hands out a free sector.
func (fm *FreeMap) Allocate() (common.Snum, bool) {
	n := fm.bm.AllocNum()
	if n == alloc.AllocError {
		util.DPrintf(1, "freemap: out of sectors\n")
		return 0, false
	}
	return common.Snum(n), true
}

// Release returns a sector to the free map.
func (fm *FreeMap) Release(s common.Snum) {
	fm.bm.FreeNum(uint64(s))
}

// NumFree reports how many sectors remain free.
func (fm *FreeMap) NumFree() uint64 {
	return fm.bm.NumFree()
}

func (fm *FreeMap) fileSize() int64 {
	return int64(fm.bm.Max()+7) / 8
}

// Create writes a fresh free-map file at sector 0. The file's own data
// sectors come out of this map, so the bitmap written below already shows
// them used.
func (fm *FreeMap) Create(t *thread.Thread, eng *inode.Engine) bool {
	if !eng.Create(t, common.FreeMapSector, fm.fileSize(), inode.File) {
		return false
	}
	return fm.Flush(t, eng)
}

// Open loads the bitmap from the free-map file.
func (fm *FreeMap) Open(t *thread.Thread, eng *inode.Engine) bool {
	ino := eng.Open(t, common.FreeMapSector)
	if ino == nil {
		return false
	}
	defer ino.Close(t)
	bits := make([]byte, fm.fileSize())
	ra := inode.MkRAState()
	if ino.ReadAt(t, ra, bits, 0) != len(bits) {
		return false
	}
	fm.bm = alloc.MkAllocBits(bits, fm.bm.Max())
	return true
}

// Flush writes the current bitmap into the free-map file.
func (fm *FreeMap) Flush(t *thread.Thread, eng *inode.Engine) bool {
	ino := eng.Open(t, common.FreeMapSector)
	if ino == nil {
		return false
	}
	defer ino.Close(t)
	bits := fm.bm.Bits()
	return ino.WriteAt(t, bits, 0) == len(bits)
}
