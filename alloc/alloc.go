// Package alloc implements a bitmap allocator over the numbers [0, max).
// It backs the swap-slot table, the device free map, the user page pool,
// and the file-descriptor map.
package alloc

import (
	"sync"

	"github.com/tugui/pintos/util"
)

// AllocError is returned when no number is free.
const AllocError uint64 = ^uint64(0)

type Alloc struct {
	lock *sync.Mutex
	bits []byte
	max  uint64
	next uint64 // first number to try
}

// MkAlloc creates an allocator with every number in [0, max) free.
func MkAlloc(max uint64) *Alloc {
	a := &Alloc{
		lock: new(sync.Mutex),
		bits: make([]byte, (max+7)/8),
		max:  max,
		next: 0,
	}
	return a
}

// MkAllocBits restores an allocator from a bitmap snapshot (see Bits).
func MkAllocBits(bits []byte, max uint64) *Alloc {
	if uint64(len(bits)) < (max+7)/8 {
		panic("MkAllocBits: short bitmap")
	}
	a := MkAlloc(max)
	copy(a.bits, bits)
	return a
}

func (a *Alloc) test(num uint64) bool {
	return a.bits[num/8]&(1<<(num%8)) != 0
}

func (a *Alloc) mark(num uint64) {
	a.bits[num/8] |= 1 << (num % 8)
}

func (a *Alloc) clear(num uint64) {
	a.bits[num/8] &^= 1 << (num % 8)
}

// AllocNum scans for a free number starting at the rotating next pointer,
// flips it used, and returns it. Returns AllocError when everything is used.
func (a *Alloc) AllocNum() uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.max == 0 {
		return AllocError
	}
	num := a.next % a.max
	start := num
	for {
		if !a.test(num) {
			a.mark(num)
			a.next = num + 1
			util.DPrintf(10, "AllocNum: %d\n", num)
			return num
		}
		num = (num + 1) % a.max
		if num == start {
			return AllocError
		}
	}
}

// AllocRun marks a run of n consecutive free numbers used and returns the
// first. Returns AllocError if no such run exists.
func (a *Alloc) AllocRun(n uint64) uint64 {
	if n == 1 {
		return a.AllocNum()
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	if n == 0 || n > a.max {
		return AllocError
	}
	num := uint64(0)
	for num+n <= a.max {
		run := uint64(0)
		for run < n && !a.test(num+run) {
			run++
		}
		if run == n {
			for i := uint64(0); i < n; i++ {
				a.mark(num + i)
			}
			return num
		}
		num += run + 1
	}
	return AllocError
}

func (a *Alloc) FreeNum(num uint64) {
	if num >= a.max {
		panic("FreeNum")
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	a.clear(num)
	if num < a.next {
		a.next = num
	}
}

// MarkUsed flips num used without going through the scan.
func (a *Alloc) MarkUsed(num uint64) {
	if num >= a.max {
		panic("MarkUsed")
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	a.mark(num)
}

func (a *Alloc) Test(num uint64) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return num < a.max && a.test(num)
}

func popCnt(b byte) uint64 {
	n := uint64(0)
	for b != 0 {
		n += uint64(b & 1)
		b >>= 1
	}
	return n
}

func (a *Alloc) NumFree() uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	used := uint64(0)
	for _, b := range a.bits {
		used += popCnt(b)
	}
	return a.max - used
}

// Bits returns a snapshot of the underlying bitmap, for persistence.
func (a *Alloc) Bits() []byte {
	a.lock.Lock()
	defer a.lock.Unlock()
	return util.CloneByteSlice(a.bits)
}

// Max reports the number of managed numbers.
func (a *Alloc) Max() uint64 {
	return a.max
}
