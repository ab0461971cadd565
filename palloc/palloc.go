// Package palloc manages the pool of physical pages handed out to user
// processes. Pages live in one contiguous backing array so multi-page
// requests return adjacent pages.
package palloc

import (
	"sync"

	"github.com/tugui/pintos/alloc"
	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/util"
)

// Page is one physical page. A *Page is what the rest of the kernel calls
// a kernel virtual page (kpage).
type Page [common.PageSize]byte

type Flags uint8

const (
	User Flags = 1 << 0 // allocate from the user pool
	Zero Flags = 1 << 1 // zero the page contents
)

type Pool struct {
	mu    *sync.Mutex
	pages []Page
	bm    *alloc.Alloc
	index map[*Page]uint64
}

// MkPool creates a pool of npages user pages.
func MkPool(npages uint64) *Pool {
	p := &Pool{
		mu:    new(sync.Mutex),
		pages: make([]Page, npages),
		bm:    alloc.MkAlloc(npages),
		index: make(map[*Page]uint64),
	}
	return p
}

// Get allocates a single page, or nil if the pool is exhausted.
func (p *Pool) Get(flags Flags) *Page {
	return p.GetMultiple(flags, 1)
}

// GetMultiple allocates n contiguous pages and returns the first, or nil
// if no such run is free.
func (p *Pool) GetMultiple(flags Flags, n uint64) *Page {
	first := p.bm.AllocRun(n)
	if first == alloc.AllocError {
		util.DPrintf(2, "palloc: pool exhausted (n=%d)\n", n)
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := uint64(0); i < n; i++ {
		pg := &p.pages[first+i]
		p.index[pg] = first + i
		if flags&Zero != 0 {
			*pg = Page{}
		}
	}
	return &p.pages[first]
}

// Free returns the n-page run starting at kpage to the pool.
func (p *Pool) Free(kpage *Page, n uint64) {
	p.mu.Lock()
	first, ok := p.index[kpage]
	if !ok {
		p.mu.Unlock()
		panic("palloc: Free of page not from this pool")
	}
	for i := uint64(0); i < n; i++ {
		delete(p.index, &p.pages[first+i])
	}
	p.mu.Unlock()
	for i := uint64(0); i < n; i++ {
		p.bm.FreeNum(first + i)
	}
}

// NumFree reports how many pages remain.
func (p *Pool) NumFree() uint64 {
	return p.bm.NumFree()
}
