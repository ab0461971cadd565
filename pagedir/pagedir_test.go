package pagedir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tugui/pintos/palloc"
)

func TestInstallClear(t *testing.T) {
	pool := palloc.MkPool(4)
	d := New()
	kpage := pool.Get(palloc.Zero)

	assert.True(t, d.Install(0x1000, kpage, true))
	assert.False(t, d.Install(0x1000, kpage, true), "double install refused")
	assert.Equal(t, kpage, d.Get(0x1000))

	d.Clear(0x1000)
	assert.Nil(t, d.Get(0x1000))
}

func TestAccessedAndDirtyBits(t *testing.T) {
	pool := palloc.MkPool(4)
	d := New()
	kpage := pool.Get(palloc.Zero)
	require.True(t, d.Install(0x2000, kpage, true))

	assert.False(t, d.IsAccessed(0x2000))
	assert.False(t, d.IsDirty(0x2000))

	buf := make([]byte, 4)
	require.True(t, d.Load(0x2000, buf))
	assert.True(t, d.IsAccessed(0x2000))
	assert.False(t, d.IsDirty(0x2000), "loads do not dirty")

	d.SetAccessed(0x2000, false)
	require.True(t, d.Store(0x2004, []byte{1, 2}))
	assert.True(t, d.IsAccessed(0x2000))
	assert.True(t, d.IsDirty(0x2000))
	assert.Equal(t, byte(2), kpage[5])
}

func TestStoreRespectsWritable(t *testing.T) {
	pool := palloc.MkPool(4)
	d := New()
	require.True(t, d.Install(0x3000, pool.Get(palloc.Zero), false))
	assert.False(t, d.Store(0x3000, []byte{1}))
	assert.True(t, d.Load(0x3000, make([]byte, 1)))
	assert.False(t, d.Store(0x9000, []byte{1}), "unmapped")
}
