// Package fd implements the per-process file-descriptor table: a bitmap of
// live descriptors over a power-of-two slot array that expands on demand.
// Public descriptors start at 2; 0 and 1 are reserved for the console.
package fd

import (
	"runtime"
	"sync"

	"github.com/tugui/pintos/alloc"
	"github.com/tugui/pintos/file"
	"github.com/tugui/pintos/thread"
	"github.com/tugui/pintos/util"
)

// Reserved descriptors below the first file-backed one.
const FirstFd = 2

// Initial table capacity, in slots.
const openDefault = 64

type Table struct {
	mu     sync.Mutex
	fds    []*file.File
	bm     *alloc.Alloc
	nextFd uint64
}

func MkTable() *Table {
	return &Table{
		fds: make([]*file.File, openDefault),
		bm:  alloc.MkAlloc(openDefault),
	}
}

// expand grows the table to hold at least size slots, rounding the capacity
// up to a power of two.
func (tb *Table) expand(size uint64) {
	newCap := uint64(util.RoundUpPow2(int64(size + 1)))
	if newCap <= uint64(len(tb.fds)) {
		return
	}
	newFds := make([]*file.File, newCap)
	copy(newFds, tb.fds)
	newBm := alloc.MkAllocBits(append(tb.bm.Bits(), make([]byte, (newCap+7)/8)...), newCap)
	tb.fds = newFds
	tb.bm = newBm
}

// Install places f in the lowest free slot at or above the recycling point
// and returns its public descriptor.
func (tb *Table) Install(f *file.File) int32 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	slot := tb.nextFd
	for slot < uint64(len(tb.fds)) && tb.bm.Test(slot) {
		slot++
	}
	if slot >= uint64(len(tb.fds)) {
		tb.expand(slot)
	}
	tb.bm.MarkUsed(slot)
	tb.fds[slot] = f
	tb.nextFd = slot + 1
	return int32(slot) + FirstFd
}

func (tb *Table) slot(fd int32) (uint64, bool) {
	if fd < FirstFd {
		return 0, false
	}
	slot := uint64(fd - FirstFd)
	if slot >= uint64(len(tb.fds)) || !tb.bm.Test(slot) {
		return 0, false
	}
	return slot, true
}

// IsOpen reports whether fd names a live descriptor.
func (tb *Table) IsOpen(fd int32) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	_, ok := tb.slot(fd)
	return ok
}

// Get returns the file behind fd, or nil.
func (tb *Table) Get(fd int32) *file.File {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	slot, ok := tb.slot(fd)
	if !ok {
		return nil
	}
	return tb.fds[slot]
}

// Close closes fd and recycles its slot.
func (tb *Table) Close(t *thread.Thread, fd int32) {
	tb.mu.Lock()
	slot, ok := tb.slot(fd)
	if !ok {
		tb.mu.Unlock()
		return
	}
	f := tb.fds[slot]
	tb.fds[slot] = nil
	tb.bm.FreeNum(slot)
	if slot < tb.nextFd {
		tb.nextFd = slot
	}
	tb.mu.Unlock()
	f.Close(t)
}

// CloseAll closes every live descriptor, yielding between closes so a
// process holding many files does not starve other threads during teardown.
func (tb *Table) CloseAll(t *thread.Thread) {
	tb.mu.Lock()
	open := make([]*file.File, 0, len(tb.fds))
	for slot := uint64(0); slot < uint64(len(tb.fds)); slot++ {
		if tb.bm.Test(slot) {
			open = append(open, tb.fds[slot])
			tb.fds[slot] = nil
			tb.bm.FreeNum(slot)
		}
	}
	tb.nextFd = 0
	tb.mu.Unlock()
	for _, f := range open {
		f.Close(t)
		runtime.Gosched()
	}
}

// Read reads into buf from fd, returning the bytes read or -1 for a bad or
// directory-typed descriptor.
func (tb *Table) Read(t *thread.Thread, fd int32, buf []byte) int {
	f := tb.Get(fd)
	if f == nil || f.IsDir(t) {
		return -1
	}
	return f.Read(t, buf)
}

// Write writes buf to fd, returning the bytes written or -1 for a bad or
// directory-typed descriptor.
func (tb *Table) Write(t *thread.Thread, fd int32, buf []byte) int {
	f := tb.Get(fd)
	if f == nil || f.IsDir(t) {
		return -1
	}
	return f.Write(t, buf)
}

// Seek positions fd for the next Read or Write.
func (tb *Table) Seek(t *thread.Thread, fd int32, pos int64) {
	f := tb.Get(fd)
	if f == nil || pos < 0 {
		return
	}
	f.Seek(pos)
}

// Tell reports fd's position, or -1.
func (tb *Table) Tell(t *thread.Thread, fd int32) int64 {
	f := tb.Get(fd)
	if f == nil {
		return -1
	}
	return f.Tell()
}

// Size reports fd's file length, or -1.
func (tb *Table) Size(t *thread.Thread, fd int32) int64 {
	f := tb.Get(fd)
	if f == nil {
		return -1
	}
	return f.Length(t)
}
