// Package mmap keeps each process's table of file mappings. Creating a
// mapping installs one supplemental entry per page; unmapping writes dirty
// pages back to the file and returns their frames. The owning process
// serialises access to its table.
package mmap

import (
	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/fd"
	"github.com/tugui/pintos/file"
	"github.com/tugui/pintos/frame"
	"github.com/tugui/pintos/page"
	"github.com/tugui/pintos/thread"
	"github.com/tugui/pintos/util"
)

type Mapid = int32

// MapidError is the failure value for mapping identifiers.
const MapidError Mapid = -1

type Mapping struct {
	ID    Mapid
	Addr  common.Vaddr
	Pages uint32
	File  *file.File
}

// Table is one process's list of mappings.
type Table struct {
	t        *thread.Thread
	pages    *page.Map
	frames   *frame.Table
	mappings []*Mapping
}

func MkTable(t *thread.Thread, pages *page.Map, frames *frame.Table) *Table {
	return &Table{t: t, pages: pages, frames: frames}
}

// MmapFd maps the file behind fdnum at addr. It rejects the console fds,
// address 0 and misaligned addresses, empty files, and ranges overlapping an
// existing supplemental entry. The file is reopened so closing fdnum does
// not tear the mapping down. On any per-page failure the entries installed
// by this call are removed and the reopened file closed.
func (mt *Table) MmapFd(files *fd.Table, fdnum int32, addr common.Vaddr) Mapid {
	if fdnum == 0 || fdnum == 1 || addr == 0 || common.PageOfs(addr) != 0 {
		return MapidError
	}
	f := files.Get(fdnum)
	if f == nil {
		return MapidError
	}
	return mt.Mmap(f, addr)
}

// Mmap maps a reopened handle of f at addr; see MmapFd.
func (mt *Table) Mmap(f *file.File, addr common.Vaddr) Mapid {
	if addr == 0 || common.PageOfs(addr) != 0 {
		return MapidError
	}
	rf := f.Reopen()
	if rf == nil {
		return MapidError
	}
	readBytes := rf.Length(mt.t)
	if readBytes == 0 {
		rf.Close(mt.t)
		return MapidError
	}

	for ofs := int64(0); ofs < readBytes; ofs += int64(common.PageSize) {
		if mt.pages.Find(addr+common.Vaddr(ofs)) != nil {
			rf.Close(mt.t)
			return MapidError
		}
	}

	mf := &Mapping{
		ID:   mt.nextID(),
		Addr: addr,
		File: rf,
	}
	mf.Pages = uint32(util.RoundUp(readBytes, int64(common.PageSize)))

	upage := addr
	ofs := int64(0)
	for remaining := readBytes; remaining > 0; {
		pageReadBytes := util.Min(remaining, int64(common.PageSize))
		if !mt.pages.AddMapfile(rf, ofs, upage, uint32(pageReadBytes)) {
			// Unwind the pages installed so far and drop the
			// reopened handle.
			for ua := addr; ua < upage; ua += common.Vaddr(common.PageSize) {
				mt.pages.Delete(ua)
			}
			rf.Close(mt.t)
			return MapidError
		}
		remaining -= pageReadBytes
		ofs += pageReadBytes
		upage += common.Vaddr(common.PageSize)
	}

	mt.mappings = append(mt.mappings, mf)
	util.DPrintf(2, "mmap: id %d at %#x, %d pages\n", mf.ID, mf.Addr, mf.Pages)
	return mf.ID
}

// Mapping identifiers count up from 1 per process.
func (mt *Table) nextID() Mapid {
	if len(mt.mappings) == 0 {
		return 1
	}
	return mt.mappings[len(mt.mappings)-1].ID + 1
}

// Munmap tears down the mapping with the given id, writing dirty resident
// pages back to the file. Reports false for an unknown id.
func (mt *Table) Munmap(id Mapid) bool {
	for i, mf := range mt.mappings {
		if mf.ID == id {
			mt.release(mf)
			mt.mappings = append(mt.mappings[:i], mt.mappings[i+1:]...)
			return true
		}
	}
	return false
}

func (mt *Table) release(mf *Mapping) {
	t := mt.t
	upage := mf.Addr
	for i := uint32(0); i < mf.Pages; i++ {
		p := mt.pages.Delete(upage)
		if p != nil && p.Loaded {
			kpage := t.Pagedir.Get(upage)
			if kpage != nil {
				if t.Pagedir.IsDirty(upage) {
					mf.File.Seek(p.Ofs)
					mf.File.Write(t, kpage[:p.ReadBytes])
				}
				t.Pagedir.Clear(upage)
				mt.frames.Free(kpage)
			}
		}
		upage += common.Vaddr(common.PageSize)
	}
	mf.File.Close(t)
}

// Close unmaps everything; called at process teardown.
func (mt *Table) Close() {
	for _, mf := range mt.mappings {
		mt.release(mf)
	}
	mt.mappings = nil
}

// Len reports the number of live mappings.
func (mt *Table) Len() int {
	return len(mt.mappings)
}
