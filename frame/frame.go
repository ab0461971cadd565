// Package frame tracks every physical page lent to user processes and
// reclaims them under memory pressure with a two-list second-chance policy:
// recently touched frames cycle through the active list, eviction candidates
// age on the inactive list.
package frame

import (
	"container/list"
	"sync"

	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/page"
	"github.com/tugui/pintos/palloc"
	"github.com/tugui/pintos/swap"
	"github.com/tugui/pintos/thread"
	"github.com/tugui/pintos/util"
)

// Keep at least this many frames on the inactive list.
const inactiveTarget = 10

// Frame describes one allocated user frame.
type Frame struct {
	Kpage  *palloc.Page
	Upage  common.Vaddr
	Owner  *thread.Thread
	Pages  *page.Map // owner's supplemental map; nil until mapped
	Size   uint64    // pages in this allocation, normally 1
	Active bool

	elem *list.Element
}

type Table struct {
	mu         sync.Mutex
	pool       *palloc.Pool
	sw         *swap.Swap
	frames     map[*palloc.Page]*Frame
	active     *list.List
	inactive   *list.List
	nrActive   int
	nrInactive int
}

func MkTable(pool *palloc.Pool, sw *swap.Swap) *Table {
	return &Table{
		pool:     pool,
		sw:       sw,
		frames:   make(map[*palloc.Page]*Frame),
		active:   list.New(),
		inactive: list.New(),
	}
}

// Get allocates one user frame for t, evicting if the pool is dry. Returns
// nil when flags lack User, and when eviction cannot save any victim; the
// fault handler treats the latter as fatal for the process.
func (ft *Table) Get(t *thread.Thread, flags palloc.Flags) *palloc.Page {
	return ft.GetMultiple(t, flags, 1)
}

// GetMultiple allocates n contiguous frames. Eviction reclaims single
// frames only, so multi-page requests fail once the pool is dry.
func (ft *Table) GetMultiple(t *thread.Thread, flags palloc.Flags, n uint64) *palloc.Page {
	if flags&palloc.User == 0 {
		return nil
	}
	kpage := ft.pool.GetMultiple(flags, n)
	if kpage != nil {
		f := &Frame{Kpage: kpage, Owner: t, Size: n}
		ft.mu.Lock()
		ft.frames[kpage] = f
		ft.pushActive(f)
		ft.mu.Unlock()
		return kpage
	}

	if n > 1 {
		return nil
	}
	f := ft.Evict()
	if f == nil {
		return nil
	}
	if flags&palloc.Zero != 0 {
		*f.Kpage = palloc.Page{}
	}
	ft.mu.Lock()
	f.Upage = 0
	f.Owner = t
	f.Pages = nil
	f.Size = 1
	ft.pushActive(f)
	ft.mu.Unlock()
	return f.Kpage
}

// pushActive appends f to the active list. Caller holds ft.mu.
func (ft *Table) pushActive(f *Frame) {
	f.Active = true
	f.elem = ft.active.PushBack(f)
	ft.nrActive++
}

// pushInactive appends f to the inactive list. Caller holds ft.mu.
func (ft *Table) pushInactive(f *Frame) {
	f.Active = false
	f.elem = ft.inactive.PushBack(f)
	ft.nrInactive++
}

// detach removes f from its current list. Caller holds ft.mu.
func (ft *Table) detach(f *Frame) {
	if f.Active {
		ft.active.Remove(f.elem)
		ft.nrActive--
	} else {
		ft.inactive.Remove(f.elem)
		ft.nrInactive--
	}
	f.elem = nil
}

// Free returns the frame at kpage to the page pool.
func (ft *Table) Free(kpage *palloc.Page) {
	ft.mu.Lock()
	f, ok := ft.frames[kpage]
	if !ok {
		ft.mu.Unlock()
		return
	}
	delete(ft.frames, kpage)
	ft.detach(f)
	ft.mu.Unlock()
	ft.pool.Free(kpage, f.Size)
}

// Find returns the frame descriptor for kpage, or nil.
func (ft *Table) Find(kpage *palloc.Page) *Frame {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.frames[kpage]
}

// SetMapping records where a frame is installed, so eviction can reach the
// owning supplemental entry.
func (ft *Table) SetMapping(kpage *palloc.Page, m *page.Map, upage common.Vaddr) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if f, ok := ft.frames[kpage]; ok {
		f.Pages = m
		f.Upage = upage
	}
}

// save pushes a frame's contents to its backing store: writable file pages
// and stack pages go to swap, dirty mmap pages go back to their file, and
// clean read-only file pages need nothing. On success the hardware mapping
// is cleared and the supplemental entry unloaded. Caller holds ft.mu.
func (ft *Table) save(f *Frame) bool {
	if f.Pages == nil {
		return false
	}
	p := f.Pages.Find(f.Upage)
	if p == nil || !p.Loaded {
		return false
	}

	if (p.Origin == page.File && p.Writable) || p.Origin == page.Stack {
		slot := ft.sw.Store(f.Kpage[:])
		if slot == swap.SlotError {
			return false
		}
		p.SwapSlot = slot
		p.InSwap = true
	} else if p.Origin == page.MmapFile && f.Owner.Pagedir.IsDirty(p.Upage) {
		p.File.Seek(p.Ofs)
		p.File.Write(f.Owner, f.Kpage[:p.ReadBytes])
	}

	f.Owner.Pagedir.Clear(p.Upage)
	p.Loaded = false
	util.DPrintf(5, "frame: saved %#x of %s\n", p.Upage, f.Owner.Name)
	return true
}

// Evict picks a victim frame, saves its contents, and returns it detached
// from both lists. The sweep order is: inactive head (second chance back to
// active), then the active list, then a forced pop of the active head.
// Finally the active list is drained until the inactive list is replenished.
func (ft *Table) Evict() *Frame {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	var evictor *Frame

	// Unsaveable frames (no mapping yet, or swap dry) go back to the
	// active list after the sweep so every frame stays on exactly one
	// list.
	var skipped []*Frame

	for ft.inactive.Len() > 0 {
		el := ft.inactive.Front()
		f := el.Value.(*Frame)
		ft.inactive.Remove(el)
		ft.nrInactive--
		f.elem = nil
		if f.Owner.Pagedir.IsAccessed(f.Upage) {
			f.Owner.Pagedir.SetAccessed(f.Upage, false)
			ft.pushActive(f)
		} else if ft.save(f) {
			evictor = f
			break
		} else {
			skipped = append(skipped, f)
		}
	}

	if evictor == nil {
		for el := ft.active.Front(); el != nil; el = el.Next() {
			f := el.Value.(*Frame)
			if f.Owner.Pagedir.IsAccessed(f.Upage) {
				f.Owner.Pagedir.SetAccessed(f.Upage, false)
			} else if ft.save(f) {
				ft.active.Remove(el)
				ft.nrActive--
				f.elem = nil
				evictor = f
				break
			}
		}
	}

	if evictor == nil && ft.active.Len() > 0 {
		el := ft.active.Front()
		f := el.Value.(*Frame)
		ft.active.Remove(el)
		ft.nrActive--
		f.elem = nil
		if ft.save(f) {
			evictor = f
		} else {
			skipped = append(skipped, f)
		}
	}

	for _, f := range skipped {
		ft.pushActive(f)
	}

	ft.shrinkActiveList()
	return evictor
}

// shrinkActiveList keeps the inactive list stocked with eviction
// candidates. Caller holds ft.mu.
func (ft *Table) shrinkActiveList() {
	for ft.nrInactive < inactiveTarget && ft.active.Len() > 0 {
		el := ft.active.Front()
		f := el.Value.(*Frame)
		ft.active.Remove(el)
		ft.nrActive--
		f.Owner.Pagedir.SetAccessed(f.Upage, false)
		ft.pushInactive(f)
	}
}

// NrActive reports the active-list length counter.
func (ft *Table) NrActive() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.nrActive
}

// NrInactive reports the inactive-list length counter.
func (ft *Table) NrInactive() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.nrInactive
}

// Len reports the number of tracked frames.
func (ft *Table) Len() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.frames)
}

// CheckLists verifies that the counters match the lists and that every
// frame's Active flag matches its membership; for test harnesses.
func (ft *Table) CheckLists() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.nrActive != ft.active.Len() || ft.nrInactive != ft.inactive.Len() {
		return false
	}
	if ft.nrActive+ft.nrInactive != len(ft.frames) {
		return false
	}
	for el := ft.active.Front(); el != nil; el = el.Next() {
		if !el.Value.(*Frame).Active {
			return false
		}
	}
	for el := ft.inactive.Front(); el != nil; el = el.Next() {
		if el.Value.(*Frame).Active {
			return false
		}
	}
	return true
}
