// Package pager loads faulting pages from their backing store — the
// executable file, a memory-mapped file, or swap — into freshly allocated
// frames, and grows stacks on demand. The fault handler calls in after
// validating the faulting address.
package pager

import (
	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/frame"
	"github.com/tugui/pintos/page"
	"github.com/tugui/pintos/palloc"
	"github.com/tugui/pintos/swap"
	"github.com/tugui/pintos/thread"
	"github.com/tugui/pintos/util"
)

// Load brings the page described by p into memory and installs it in t's
// page table. Returns false on any failure; the frame acquired along the
// way is returned to the allocator first.
func Load(t *thread.Thread, ft *frame.Table, sw *swap.Swap, m *page.Map, p *page.Entry) bool {
	switch {
	case p.InSwap && (p.Origin == page.File || p.Origin == page.Stack):
		return loadFromSwap(t, ft, sw, m, p)
	case p.Origin == page.File:
		return loadFromFile(t, ft, m, p)
	case p.Origin == page.MmapFile:
		return loadFromMapfile(t, ft, m, p)
	default:
		return false
	}
}

func loadFromFile(t *thread.Thread, ft *frame.Table, m *page.Map, p *page.Entry) bool {
	kpage := ft.Get(t, palloc.User)
	if kpage == nil {
		return false
	}

	p.File.Seek(p.Ofs)
	if p.File.Read(t, kpage[:p.ReadBytes]) != int(p.ReadBytes) {
		ft.Free(kpage)
		return false
	}
	for i := p.ReadBytes; i < p.ReadBytes+p.ZeroBytes; i++ {
		kpage[i] = 0
	}

	if !t.Pagedir.Install(p.Upage, kpage, p.Writable) {
		ft.Free(kpage)
		return false
	}
	ft.SetMapping(kpage, m, p.Upage)
	p.Loaded = true
	util.DPrintf(5, "pager: file page %#x in\n", p.Upage)
	return true
}

func loadFromMapfile(t *thread.Thread, ft *frame.Table, m *page.Map, p *page.Entry) bool {
	kpage := ft.Get(t, palloc.User)
	if kpage == nil {
		return false
	}

	p.File.Seek(p.Ofs)
	if p.File.Read(t, kpage[:p.ReadBytes]) != int(p.ReadBytes) {
		ft.Free(kpage)
		return false
	}
	for i := p.ReadBytes; i < common.PageSize; i++ {
		kpage[i] = 0
	}

	if !t.Pagedir.Install(p.Upage, kpage, true) {
		ft.Free(kpage)
		return false
	}
	ft.SetMapping(kpage, m, p.Upage)
	p.Loaded = true
	return true
}

func loadFromSwap(t *thread.Thread, ft *frame.Table, sw *swap.Swap, m *page.Map, p *page.Entry) bool {
	kpage := ft.Get(t, palloc.User)
	if kpage == nil {
		return false
	}

	sw.Load(kpage[:], p.SwapSlot)

	if !t.Pagedir.Install(p.Upage, kpage, true) {
		ft.Free(kpage)
		return false
	}
	ft.SetMapping(kpage, m, p.Upage)
	p.InSwap = false
	p.SwapSlot = swap.SlotError
	p.Loaded = true
	util.DPrintf(5, "pager: swap page %#x in\n", p.Upage)
	return true
}

// GrowStack installs a fresh zeroed, writable stack page at upage and
// records it in the supplemental map as already loaded.
func GrowStack(t *thread.Thread, ft *frame.Table, m *page.Map, upage common.Vaddr) bool {
	kpage := ft.Get(t, palloc.User|palloc.Zero)
	if kpage == nil {
		return false
	}
	if !t.Pagedir.Install(upage, kpage, true) {
		ft.Free(kpage)
		return false
	}
	if !m.AddStack(upage) {
		t.Pagedir.Clear(upage)
		ft.Free(kpage)
		return false
	}
	ft.SetMapping(kpage, m, upage)
	return true
}
