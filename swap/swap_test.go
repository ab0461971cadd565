package swap_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tugui/pintos/common"
	"github.com/tugui/pintos/disk"
	"github.com/tugui/pintos/swap"
)

func page(fill byte) []byte {
	p := make([]byte, common.PageSize)
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestStoreLoadRoundTrip(t *testing.T) {
	sw := swap.MkSwap(disk.NewMemDisk(64))

	src := make([]byte, common.PageSize)
	rand.Read(src)
	slot := sw.Store(src)
	require.NotEqual(t, swap.SlotError, slot)

	dst := make([]byte, common.PageSize)
	sw.Load(dst, slot)
	assert.Equal(t, src, dst)
}

func TestSlotsAreSingleUse(t *testing.T) {
	// 64 sectors = 8 slots.
	sw := swap.MkSwap(disk.NewMemDisk(64))
	assert.Equal(t, uint64(8), sw.NumFree())

	slot := sw.Store(page(1))
	assert.Equal(t, uint64(7), sw.NumFree())

	sw.Load(page(0), slot)
	assert.Equal(t, uint64(8), sw.NumFree(), "load frees the slot")

	slot2 := sw.Store(page(2))
	sw.Free(slot2)
	assert.Equal(t, uint64(8), sw.NumFree())
}

func TestExhaustion(t *testing.T) {
	sw := swap.MkSwap(disk.NewMemDisk(2 * common.SectorsPerPage))
	a := sw.Store(page(0xaa))
	b := sw.Store(page(0xbb))
	require.NotEqual(t, swap.SlotError, a)
	require.NotEqual(t, swap.SlotError, b)
	assert.Equal(t, swap.SlotError, sw.Store(page(0xcc)))

	// Contents survive the failed store.
	buf := make([]byte, common.PageSize)
	sw.Load(buf, a)
	assert.Equal(t, page(0xaa), buf)
}
