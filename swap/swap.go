// Package swap allocates page-sized slots on a dedicated block device and
// moves evicted pages in and out of them.
package swap

import (
	"github.com/tugui/pintos/alloc"
	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/disk"
	"github.com/tugui/pintos/util"
)

// Slot names one page-sized region of the swap device.
type Slot = uint32

// SlotError means no slot.
const SlotError Slot = ^Slot(0)

type Swap struct {
	d  disk.Disk
	bm *alloc.Alloc
}

// MkSwap creates a swap allocator over d; every PageSize-worth of sectors
// becomes one slot.
func MkSwap(d disk.Disk) *Swap {
	return &Swap{
		d:  d,
		bm: alloc.MkAlloc(uint64(d.Size() / common.SectorsPerPage)),
	}
}

// Store reserves a slot and writes one page into it. Returns SlotError when
// swap is exhausted. The scan-and-flip reserves the slot, so the sector
// writes need no further locking.
func (sw *Swap) Store(page []byte) Slot {
	if uint32(len(page)) != common.PageSize {
		panic("swap: Store of non page-sized buffer")
	}
	n := sw.bm.AllocNum()
	if n == alloc.AllocError {
		util.DPrintf(1, "swap: out of slots\n")
		return SlotError
	}
	slot := Slot(n)
	for i := uint32(0); i < common.SectorsPerPage; i++ {
		sw.d.Write(slot*common.SectorsPerPage+i, page[i*common.SectorSize:(i+1)*common.SectorSize])
	}
	return slot
}

// Load reads the page in slot back and frees the slot; a reloaded page is
// re-stored to a fresh slot if it is evicted again.
func (sw *Swap) Load(page []byte, slot Slot) {
	if uint32(len(page)) != common.PageSize {
		panic("swap: Load of non page-sized buffer")
	}
	for i := uint32(0); i < common.SectorsPerPage; i++ {
		sw.d.ReadTo(slot*common.SectorsPerPage+i, page[i*common.SectorSize:(i+1)*common.SectorSize])
	}
	sw.bm.FreeNum(uint64(slot))
}

// Free releases a slot without reading it.
func (sw *Swap) Free(slot Slot) {
	sw.bm.FreeNum(uint64(slot))
}

// NumFree reports the free slots remaining.
func (sw *Swap) NumFree() uint64 {
	return sw.bm.NumFree()
}
