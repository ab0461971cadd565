// Package pagedir models the hardware page table of one process: the
// mapping from user virtual pages to physical pages plus the accessed and
// dirty bits the MMU maintains. Store and Load stand in for user-mode
// memory access so the paging machinery can be driven without real faults.
package pagedir

import (
	"sync"

	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/palloc"
)

type pte struct {
	kpage    *palloc.Page
	writable bool
	accessed bool
	dirty    bool
}

type Dir struct {
	mu   sync.Mutex
	ptes map[common.Vaddr]*pte
}

func New() *Dir {
	return &Dir{ptes: make(map[common.Vaddr]*pte)}
}

// Install maps upage to kpage. Fails if upage is already mapped.
func (d *Dir) Install(upage common.Vaddr, kpage *palloc.Page, writable bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.ptes[upage]; ok {
		return false
	}
	d.ptes[upage] = &pte{kpage: kpage, writable: writable}
	return true
}

// Get returns the physical page upage maps to, or nil.
func (d *Dir) Get(upage common.Vaddr) *palloc.Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.ptes[upage]
	if !ok {
		return nil
	}
	return e.kpage
}

// Clear removes the mapping for upage.
func (d *Dir) Clear(upage common.Vaddr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ptes, upage)
}

func (d *Dir) IsAccessed(upage common.Vaddr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.ptes[upage]
	return ok && e.accessed
}

func (d *Dir) SetAccessed(upage common.Vaddr, accessed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.ptes[upage]; ok {
		e.accessed = accessed
	}
}

func (d *Dir) IsDirty(upage common.Vaddr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.ptes[upage]
	return ok && e.dirty
}

func (d *Dir) SetDirty(upage common.Vaddr, dirty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.ptes[upage]; ok {
		e.dirty = dirty
	}
}

// Store copies p into user memory at va through the page table, setting the
// accessed and dirty bits the way a hardware store would. The range must not
// cross a page boundary. Returns false on an unmapped or read-only page.
func (d *Dir) Store(va common.Vaddr, p []byte) bool {
	if common.PageOfs(va)+uint32(len(p)) > common.PageSize {
		panic("pagedir: Store crosses a page boundary")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.ptes[common.PageRoundDown(va)]
	if !ok || !e.writable {
		return false
	}
	copy(e.kpage[common.PageOfs(va):], p)
	e.accessed = true
	e.dirty = true
	return true
}

// Load copies user memory at va into p, setting the accessed bit. The range
// must not cross a page boundary. Returns false on an unmapped page.
func (d *Dir) Load(va common.Vaddr, p []byte) bool {
	if common.PageOfs(va)+uint32(len(p)) > common.PageSize {
		panic("pagedir: Load crosses a page boundary")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.ptes[common.PageRoundDown(va)]
	if !ok {
		return false
	}
	copy(p, e.kpage[common.PageOfs(va):])
	e.accessed = true
	return true
}
