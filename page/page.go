// Package page keeps each process's supplemental page map: for every user
// virtual page, where its contents come from. An entry carries an origin
// tag (stack, executable file, or memory-mapped file) and an InSwap overlay
// set while the contents sit in a swap slot; mmap pages never swap, they
// write back to their file instead.
package page

import (
	"sync"

	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/file"
	"github.com/tugui/pintos/swap"
	"github.com/tugui/pintos/util"
)

type Origin uint8

const (
	Stack Origin = iota
	File
	MmapFile
)

// Entry describes one user page's backing.
type Entry struct {
	Upage  common.Vaddr
	Origin Origin
	InSwap bool

	// File- and mmap-backed fields. Writable is meaningful for File
	// origin only; mmap pages are always writable, stack pages have no
	// file at all.
	File      *file.File
	Ofs       int64
	ReadBytes uint32
	ZeroBytes uint32
	Writable  bool

	SwapSlot swap.Slot
	Loaded   bool
}

// Map is one process's supplemental page map, keyed by user virtual page.
type Map struct {
	mu      sync.Mutex
	entries map[common.Vaddr]*Entry
}

func MkMap() *Map {
	return &Map{entries: make(map[common.Vaddr]*Entry)}
}

// AddFile records that upage loads readBytes from f at ofs with zeroBytes
// of zero fill after it. Fails if upage already has an entry.
func (m *Map) AddFile(f *file.File, ofs int64, upage common.Vaddr,
	readBytes uint32, zeroBytes uint32, writable bool) bool {
	return m.insert(&Entry{
		Upage:     upage,
		Origin:    File,
		File:      f,
		Ofs:       ofs,
		ReadBytes: readBytes,
		ZeroBytes: zeroBytes,
		Writable:  writable,
	})
}

// AddMapfile records a memory-mapped page: readBytes from f at ofs, zero to
// the page boundary, always writable.
func (m *Map) AddMapfile(f *file.File, ofs int64, upage common.Vaddr, readBytes uint32) bool {
	return m.insert(&Entry{
		Upage:     upage,
		Origin:    MmapFile,
		File:      f,
		Ofs:       ofs,
		ReadBytes: readBytes,
	})
}

// AddStack records a stack page the grower has already installed.
func (m *Map) AddStack(upage common.Vaddr) bool {
	return m.insert(&Entry{
		Upage:  upage,
		Origin: Stack,
		Loaded: true,
	})
}

func (m *Map) insert(p *Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[p.Upage]; ok {
		return false
	}
	m.entries[p.Upage] = p
	util.DPrintf(10, "page: add %#x origin %d\n", p.Upage, p.Origin)
	return true
}

// Find returns the entry for upage, or nil.
func (m *Map) Find(upage common.Vaddr) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[upage]
}

// Delete removes and returns the entry for upage, or nil.
func (m *Map) Delete(upage common.Vaddr) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[upage]
	if !ok {
		return nil
	}
	delete(m.entries, upage)
	return p
}

// Free empties the map at process teardown, releasing any swap slots still
// referenced.
func (m *Map) Free(sw *swap.Swap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for upage, p := range m.entries {
		if p.InSwap {
			sw.Free(p.SwapSlot)
		}
		delete(m.entries, upage)
	}
}

// Len reports the number of entries.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
