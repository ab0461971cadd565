package inode

import (
	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/thread"
	"github.com/tugui/pintos/util"
)

// Default maximum readahead window, in sectors.
const RAWindow = 32

// RAState tracks one opener's readahead window: where it starts, how many
// sectors it spans, how many of those are asynchronous lookahead, and the
// previous read position in bytes.
type RAState struct {
	Start     int64 // window start, in file sector indices
	Size      int64 // window size, in sectors
	AsyncSize int64 // trailing sectors fetched ahead of the reader
	RaPages   int64 // maximum window; 0 disables readahead
	PrevPos   int64 // previous read position, in bytes
}

func MkRAState() *RAState {
	return &RAState{RaPages: RAWindow, PrevPos: -1}
}

// initRASize picks the initial window for a sequential start.
func initRASize(req int64, max int64) int64 {
	newsize := util.RoundUpPow2(req)
	if newsize <= max/32 {
		newsize = newsize * 4
	} else if newsize <= max/4 {
		newsize = newsize * 2
	} else {
		newsize = max
	}
	return newsize
}

// nextRASize ramps the previous window size up.
func nextRASize(ra *RAState, max int64) int64 {
	cur := ra.Size
	if cur < max/16 {
		return 4 * cur
	}
	if cur <= max/2 {
		return 2 * cur
	}
	return max
}

// nextMiss scans forward from index for the first sector of ino that is not
// cached, looking at most maxScan sectors ahead.
func (eng *Engine) nextMiss(t *thread.Thread, ino *Inode, index int64, maxScan int64) int64 {
	for maxScan > 0 {
		sector := eng.findSector(t, ino, index)
		if sector == common.SectorError || eng.c.Find(sector) == nil {
			break
		}
		index++
		maxScan--
	}
	return index
}

// doReadahead pulls n sectors starting at start into the cache, stamping
// the readahead marker on the sector n-lookahead in. Finding a sector
// already cached suppresses this pass: the reader is ahead of us.
func (eng *Engine) doReadahead(t *thread.Thread, ino *Inode, start int64, n int64, lookahead int64) int64 {
	nrSectors := int64(0)
	length := ino.Length(t)
	if length == 0 {
		return 0
	}
	endIndex := (length - 1) >> common.SectorShift

	for i := int64(0); i < n; i++ {
		index := start + i
		if index > endIndex {
			break
		}
		sector := eng.findSector(t, ino, index)
		if sector == common.SectorError {
			break
		}
		if eng.c.Find(sector) != nil {
			return 0
		} else {
			e := eng.c.Get(t, sector)
			if e == nil {
				break
			}
			if i == n-lookahead {
				eng.c.SetReadahead(sector)
			}
			eng.c.Release(e)
			nrSectors++
		}
	}
	return nrSectors
}

// ondemandReadahead sizes and places the readahead window from the access
// pattern alone: sequential starts grow a window, expected offsets shift
// and ramp it, marker hits without window state rebuild it from the cache
// contents, and anything else is a one-shot fetch that leaves the window
// untouched.
func (eng *Engine) ondemandReadahead(t *thread.Thread, ino *Inode, ra *RAState,
	hitMarker bool, offset int64, req int64) int64 {
	max := ra.RaPages

	if offset != 0 {
		// The expected offset: sequential access. Push the window
		// forward and ramp it up.
		if offset == ra.Start+ra.Size-ra.AsyncSize || offset == ra.Start+ra.Size {
			ra.Start += ra.Size
			ra.Size = nextRASize(ra, max)
			ra.AsyncSize = ra.Size
			return eng.readit(t, ino, ra, offset, max)
		}

		// Hit a marked sector without valid window state (interleaved
		// reads): rebuild the window from the first gap in the cache.
		if hitMarker {
			start := eng.nextMiss(t, ino, offset+1, max)
			if start-offset > max {
				return 0
			}
			ra.Start = start
			ra.Size = start - offset
			ra.Size += req
			ra.Size = nextRASize(ra, max)
			ra.AsyncSize = ra.Size
			return eng.readit(t, ino, ra, offset, max)
		}

		// Oversized requests and reads at or just past the previous
		// position count as sequential starts; everything else is
		// random access: read as is and do not pollute the window.
		if req <= max && offset-(ra.PrevPos>>common.SectorShift) > 1 {
			return eng.doReadahead(t, ino, offset, req, 0)
		}
	}

	ra.Start = offset
	ra.Size = initRASize(req, max)
	if ra.Size > req {
		ra.AsyncSize = ra.Size - req
	} else {
		ra.AsyncSize = ra.Size
	}
	return eng.readit(t, ino, ra, offset, max)
}

// readit issues the fetch for the current window, first merging the next
// window ahead of time when this read would consume its own marker.
func (eng *Engine) readit(t *thread.Thread, ino *Inode, ra *RAState, offset int64, max int64) int64 {
	if offset == ra.Start && ra.Size == ra.AsyncSize {
		add := nextRASize(ra, max)
		if ra.Size+add <= max {
			ra.AsyncSize = add
			ra.Size += add
		} else {
			ra.Size = max
			ra.AsyncSize = max >> 1
		}
	}
	return eng.doReadahead(t, ino, ra.Start, ra.Size, ra.AsyncSize)
}

// syncReadahead runs the oracle on a cache miss.
func (eng *Engine) syncReadahead(t *thread.Thread, ino *Inode, ra *RAState, offset int64, req int64) {
	if ra.RaPages == 0 {
		return
	}
	eng.ondemandReadahead(t, ino, ra, false, offset, req)
}

// asyncReadahead runs the oracle when the reader consumes a marked sector,
// clearing the marker first.
func (eng *Engine) asyncReadahead(t *thread.Thread, ino *Inode, ra *RAState,
	sector common.Snum, offset int64, req int64) {
	if ra.RaPages == 0 {
		return
	}
	eng.c.ClearReadahead(sector)
	eng.ondemandReadahead(t, ino, ra, true, offset, req)
}
