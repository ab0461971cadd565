package mmap_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/disk"
	"github.com/tugui/pintos/fd"
	"github.com/tugui/pintos/filesys"
	"github.com/tugui/pintos/frame"
	"github.com/tugui/pintos/inode"
	"github.com/tugui/pintos/mmap"
	"github.com/tugui/pintos/page"
	"github.com/tugui/pintos/pager"
	"github.com/tugui/pintos/palloc"
	"github.com/tugui/pintos/swap"
	"github.com/tugui/pintos/thread"
)

type env struct {
	fs    *filesys.FS
	ft    *frame.Table
	sw    *swap.Swap
	m     *page.Map
	mt    *mmap.Table
	files *fd.Table
	th    *thread.Thread
}

func mkEnv(t *testing.T) *env {
	th := thread.New("proc")
	fs := filesys.MkFS(th, disk.NewMemDisk(2048), true)
	t.Cleanup(func() { fs.Done(th) })
	sw := swap.MkSwap(disk.NewMemDisk(32 * common.SectorsPerPage))
	m := page.MkMap()
	ft := frame.MkTable(palloc.MkPool(16), sw)
	return &env{
		fs:    fs,
		ft:    ft,
		sw:    sw,
		m:     m,
		mt:    mmap.MkTable(th, m, ft),
		files: fd.MkTable(),
		th:    th,
	}
}

// openFd creates a file holding buf and opens it through the fd table.
func (e *env) openFd(t *testing.T, buf []byte) (int32, common.Snum) {
	sector, ok := e.fs.Create(e.th, 0, inode.File)
	require.True(t, ok)
	f := e.fs.Open(e.th, sector)
	require.Equal(t, len(buf), f.Write(e.th, buf))
	f.Seek(0)
	return e.files.Install(f), sector
}

// touch faults the mapped page in and optionally dirties it.
func (e *env) touch(t *testing.T, upage common.Vaddr, dirty []byte) {
	p := e.m.Find(upage)
	require.NotNil(t, p)
	if !p.Loaded {
		require.True(t, pager.Load(e.th, e.ft, e.sw, e.m, p))
	}
	if dirty != nil {
		require.True(t, e.th.Pagedir.Store(upage, dirty))
	} else {
		require.True(t, e.th.Pagedir.Load(upage, make([]byte, 1)))
	}
}

func TestMmapValidation(t *testing.T) {
	e := mkEnv(t)
	fdnum, _ := e.openFd(t, []byte("content"))

	const addr = common.Vaddr(0x50000)
	assert.Equal(t, mmap.MapidError, e.mt.MmapFd(e.files, 0, addr), "console fd")
	assert.Equal(t, mmap.MapidError, e.mt.MmapFd(e.files, 1, addr), "console fd")
	assert.Equal(t, mmap.MapidError, e.mt.MmapFd(e.files, 99, addr), "unopened fd")
	assert.Equal(t, mmap.MapidError, e.mt.MmapFd(e.files, fdnum, addr+1), "unaligned")
	assert.Equal(t, mmap.MapidError, e.mt.MmapFd(e.files, fdnum, 0), "nil address")

	empty, _ := e.fs.Create(e.th, 0, inode.File)
	ef := e.files.Install(e.fs.Open(e.th, empty))
	assert.Equal(t, mmap.MapidError, e.mt.MmapFd(e.files, ef, addr), "empty file")

	id := e.mt.MmapFd(e.files, fdnum, addr)
	assert.Equal(t, mmap.Mapid(1), id, "mapids start at 1")

	assert.Equal(t, mmap.MapidError, e.mt.MmapFd(e.files, fdnum, addr),
		"overlap with the live mapping")

	id2 := e.mt.MmapFd(e.files, fdnum, addr+16*common.PageSize)
	assert.Equal(t, mmap.Mapid(2), id2, "mapids increase monotonically")
}

func TestMmapSurvivesFdClose(t *testing.T) {
	e := mkEnv(t)
	content := []byte("mapped after close")
	fdnum, _ := e.openFd(t, content)

	const addr = common.Vaddr(0x60000)
	id := e.mt.MmapFd(e.files, fdnum, addr)
	require.NotEqual(t, mmap.MapidError, id)
	e.files.Close(e.th, fdnum)

	e.touch(t, addr, nil)
	got := make([]byte, len(content))
	require.True(t, e.th.Pagedir.Load(addr, got))
	assert.Equal(t, content, got, "mapping reads through its reopened handle")
	assert.True(t, e.mt.Munmap(id))
}

// Scenario: map a 2-page file, dirty only page 0, unmap. Page 0 is written
// back, page 1 is not.
func TestMunmapWritesBackDirtyPagesOnly(t *testing.T) {
	e := mkEnv(t)
	content := make([]byte, 2*common.PageSize)
	rand.Read(content)
	fdnum, sector := e.openFd(t, content)

	const addr = common.Vaddr(0x70000)
	id := e.mt.MmapFd(e.files, fdnum, addr)
	require.NotEqual(t, mmap.MapidError, id)
	require.Equal(t, 2, e.m.Len(), "one supplemental entry per page")

	dirtied := []byte("scribbled over page zero")
	e.touch(t, addr, dirtied)
	e.touch(t, addr+common.PageSize, nil) // read page 1, leave it clean

	require.True(t, e.mt.Munmap(id))
	assert.Equal(t, 0, e.m.Len(), "entries removed")
	assert.Equal(t, 0, e.ft.Len(), "frames returned")
	assert.False(t, e.mt.Munmap(id), "unknown id after teardown")

	f := e.fs.Open(e.th, sector)
	defer f.Close(e.th)
	got := make([]byte, 2*common.PageSize)
	require.Equal(t, len(got), f.Read(e.th, got))
	copy(content, dirtied)
	assert.Equal(t, content, got, "dirty page 0 written back, page 1 untouched")
}

func TestMmapOneByteFile(t *testing.T) {
	e := mkEnv(t)
	fdnum, sector := e.openFd(t, []byte{0x41})

	const addr = common.Vaddr(0x90000)
	id := e.mt.MmapFd(e.files, fdnum, addr)
	require.NotEqual(t, mmap.MapidError, id)
	require.Equal(t, 1, e.m.Len(), "a 1-byte file maps one page")
	assert.Equal(t, uint32(1), e.m.Find(addr).ReadBytes)

	e.touch(t, addr, []byte{0x5a})
	require.True(t, e.mt.Munmap(id))

	f := e.fs.Open(e.th, sector)
	defer f.Close(e.th)
	assert.Equal(t, int64(1), f.Length(e.th), "write-back covers exactly one byte")
	got := make([]byte, 1)
	f.Read(e.th, got)
	assert.Equal(t, byte(0x5a), got[0])
}

// Round-trip law: mmap, memcpy, munmap, then reading the file through the
// fd layer yields the stored bytes.
func TestMmapRoundTripLaw(t *testing.T) {
	e := mkEnv(t)
	fdnum, sector := e.openFd(t, make([]byte, common.PageSize))

	const addr = common.Vaddr(0xa0000)
	id := e.mt.MmapFd(e.files, fdnum, addr)
	require.NotEqual(t, mmap.MapidError, id)

	data := make([]byte, common.PageSize)
	rand.Read(data)
	e.touch(t, addr, nil)
	require.True(t, e.th.Pagedir.Store(addr, data))
	require.True(t, e.mt.Munmap(id))

	f := e.fs.Open(e.th, sector)
	defer f.Close(e.th)
	out := make([]byte, common.PageSize)
	require.Equal(t, len(out), f.Read(e.th, out))
	assert.Equal(t, data, out)
}

func TestCloseUnmapsEverything(t *testing.T) {
	e := mkEnv(t)
	fdnum, _ := e.openFd(t, make([]byte, 3*common.PageSize))

	a := e.mt.MmapFd(e.files, fdnum, 0x100000)
	b := e.mt.MmapFd(e.files, fdnum, 0x200000)
	require.NotEqual(t, mmap.MapidError, a)
	require.NotEqual(t, mmap.MapidError, b)
	for i := uint32(0); i < 3; i++ {
		e.touch(t, 0x100000+common.Vaddr(i*common.PageSize), nil)
	}
	require.Equal(t, 2, e.mt.Len())

	e.mt.Close()
	assert.Equal(t, 0, e.mt.Len())
	assert.Equal(t, 0, e.m.Len())
	assert.Equal(t, 0, e.ft.Len())
}
