package inode_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tugui/pintos/cache"
	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/disk"
	"github.com/tugui/pintos/freemap"
	"github.com/tugui/pintos/inode"
	"github.com/tugui/pintos/thread"
)

func testEngine(tb testing.TB, nsectors common.Snum) (*inode.Engine, *freemap.FreeMap, *thread.Thread) {
	d := disk.NewMemDisk(nsectors)
	c := cache.MkCache(d)
	tb.Cleanup(c.Shutdown)
	fm := freemap.MkFreeMap(nsectors)
	return inode.MkEngine(c, fm), fm, thread.New("main")
}

func data(sz int) []byte {
	d := make([]byte, sz)
	rand.Read(d)
	return d
}

func TestCreateWriteRead(t *testing.T) {
	eng, _, th := testEngine(t, 256)

	require.True(t, eng.Create(th, 42, 0, inode.File))
	ino := eng.Open(th, 42)
	require.NotNil(t, ino)

	n := ino.WriteAt(th, []byte("hello"), 0)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), ino.Length(th))

	out := make([]byte, 5)
	ra := inode.MkRAState()
	assert.Equal(t, 5, ino.ReadAt(th, ra, out, 0))
	assert.Equal(t, []byte("hello"), out)
	ino.Close(th)
}

func TestCreateZeroFilled(t *testing.T) {
	eng, _, th := testEngine(t, 256)

	require.True(t, eng.Create(th, 42, 600, inode.File))
	ino := eng.Open(th, 42)
	out := make([]byte, 600)
	for i := range out {
		out[i] = 0xcc
	}
	ra := inode.MkRAState()
	assert.Equal(t, 600, ino.ReadAt(th, ra, out, 0))
	assert.Equal(t, make([]byte, 600), out, "fresh file reads back zeros")
	ino.Close(th)
}

func TestRoundTripLaw(t *testing.T) {
	eng, _, th := testEngine(t, 1024)

	const n = 40000
	require.True(t, eng.Create(th, 42, n, inode.File))
	ino := eng.Open(th, 42)

	buf := data(n)
	assert.Equal(t, n, ino.WriteAt(th, buf, 0))
	out := make([]byte, n)
	assert.Equal(t, n, ino.ReadAt(th, inode.MkRAState(), out, 0))
	assert.Equal(t, buf, out)
	ino.Close(th)
}

func TestReadPastEOF(t *testing.T) {
	eng, _, th := testEngine(t, 256)
	require.True(t, eng.Create(th, 42, 100, inode.File))
	ino := eng.Open(th, 42)

	out := make([]byte, 200)
	assert.Equal(t, 100, ino.ReadAt(th, inode.MkRAState(), out, 0))
	assert.Equal(t, 0, ino.ReadAt(th, inode.MkRAState(), out, 100))
	assert.Equal(t, 40, ino.ReadAt(th, inode.MkRAState(), out, 60))
	ino.Close(th)
}

func TestExtendReadsZeros(t *testing.T) {
	eng, _, th := testEngine(t, 1024)
	require.True(t, eng.Create(th, 42, 0, inode.File))
	ino := eng.Open(th, 42)

	ino.WriteAt(th, []byte("abc"), 0)
	// Writing far past the end backs [3, 5000) with fresh sectors.
	assert.Equal(t, 4, ino.WriteAt(th, []byte("tail"), 5000))
	assert.Equal(t, int64(5004), ino.Length(th))

	out := make([]byte, 4997)
	assert.Equal(t, 4997, ino.ReadAt(th, inode.MkRAState(), out, 3))
	assert.Equal(t, make([]byte, 4997), out, "the gap reads back zeros")
	ino.Close(th)
}

func TestTierBoundaries(t *testing.T) {
	eng, _, th := testEngine(t, 2048)
	require.True(t, eng.Create(th, 42, 0, inode.File))
	ino := eng.Open(th, 42)

	// Crosses direct (12 sectors) and single-indirect (140 sectors).
	sz := int(145 * disk.SectorSize)
	buf := data(sz)
	assert.Equal(t, sz, ino.WriteAt(th, buf, 0))

	out := make([]byte, sz)
	assert.Equal(t, sz, ino.ReadAt(th, inode.MkRAState(), out, 0))
	assert.Equal(t, buf, out, "contents intact across direct/indirect/double tiers")
	ino.Close(th)
}

func TestWriteBeyondMaxFails(t *testing.T) {
	eng, fm, th := testEngine(t, 256)
	require.True(t, eng.Create(th, 42, 0, inode.File))
	ino := eng.Open(th, 42)

	free := fm.NumFree()
	assert.Equal(t, 0, ino.WriteAt(th, []byte("x"), inode.MaxLen))
	assert.Equal(t, int64(0), ino.Length(th), "length unchanged")
	assert.Equal(t, free, fm.NumFree(), "no sectors leaked")
	ino.Close(th)
}

func TestCreateRollsBackOnExhaustion(t *testing.T) {
	// Too small a device: allocation fails partway through.
	eng, fm, th := testEngine(t, 16)
	free := fm.NumFree()
	assert.False(t, eng.Create(th, 2, 100*int64(disk.SectorSize), inode.File))
	assert.Equal(t, free, fm.NumFree(), "every acquired sector released")
}

func TestOpenInterning(t *testing.T) {
	eng, _, th := testEngine(t, 256)
	require.True(t, eng.Create(th, 42, 0, inode.File))

	a := eng.Open(th, 42)
	b := eng.Open(th, 42)
	assert.Same(t, a, b, "same sector, same handle")
	assert.Equal(t, 2, a.OpenCount())

	b.Close(th)
	assert.Equal(t, 1, a.OpenCount())
	a.Close(th)

	c := eng.Open(th, 42)
	assert.NotSame(t, a, c, "fully closed handle is not reused")
	c.Close(th)
}

func TestRemoveFreesSectors(t *testing.T) {
	eng, fm, th := testEngine(t, 1024)
	before := fm.NumFree()

	require.True(t, eng.Create(th, 42, 20*int64(disk.SectorSize), inode.File))
	assert.Less(t, fm.NumFree(), before)

	ino := eng.Open(th, 42)
	ino.Remove()
	ino.Close(th)
	// The inode sector itself is not from the free map here; every data
	// and index sector plus sector 42 came back.
	assert.Equal(t, before+1, fm.NumFree())
}

func TestDenyWrite(t *testing.T) {
	eng, _, th := testEngine(t, 256)
	require.True(t, eng.Create(th, 42, 0, inode.File))
	ino := eng.Open(th, 42)

	ino.DenyWrite()
	assert.Equal(t, 0, ino.WriteAt(th, []byte("no"), 0))
	assert.Equal(t, int64(0), ino.Length(th))

	ino.AllowWrite()
	assert.Equal(t, 2, ino.WriteAt(th, []byte("ok"), 0))
	ino.Close(th)
}

func TestTypeTag(t *testing.T) {
	eng, _, th := testEngine(t, 256)
	require.True(t, eng.Create(th, 42, 0, inode.Dir))
	require.True(t, eng.Create(th, 43, 0, inode.File))

	dir := eng.Open(th, 42)
	f := eng.Open(th, 43)
	assert.True(t, dir.IsDir(th))
	assert.False(t, f.IsDir(th))
	assert.Equal(t, common.Snum(42), dir.Inumber())
	dir.Close(th)
	f.Close(th)
}

func TestPartialSectorWrites(t *testing.T) {
	eng, _, th := testEngine(t, 256)
	require.True(t, eng.Create(th, 42, 2*int64(disk.SectorSize), inode.File))
	ino := eng.Open(th, 42)

	// A sub-sector write in the middle leaves surrounding bytes alone.
	pattern := data(int(disk.SectorSize))
	ino.WriteAt(th, pattern, 0)
	ino.WriteAt(th, []byte("XY"), 100)

	out := make([]byte, disk.SectorSize)
	ino.ReadAt(th, inode.MkRAState(), out, 0)
	assert.Equal(t, pattern[:100], out[:100])
	assert.Equal(t, []byte("XY"), out[100:102])
	assert.Equal(t, pattern[102:], out[102:])

	// A write spanning the sector boundary lands in both sectors.
	span := bytes.Repeat([]byte{0xee}, 100)
	ino.WriteAt(th, span, int64(disk.SectorSize)-50)
	two := make([]byte, 2*disk.SectorSize)
	ino.ReadAt(th, inode.MkRAState(), two, 0)
	assert.Equal(t, span, two[int(disk.SectorSize)-50:int(disk.SectorSize)+50])
	ino.Close(th)
}
