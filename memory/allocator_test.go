package memory

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	cases := map[int]int{1: 64, 64: 64, 65: 128, 100: 128, 128: 128, 1000: 1024, 4097: 8192}
	for n, want := range cases {
		assert.Equal(t, want, sizeClass(n), "size %d", n)
	}
}

func TestPoolAllocate(t *testing.T) {
	p := NewPool(Device, 1<<20)
	assert.Equal(t, Device, p.Space())

	buf, err := p.Allocate(100)
	require.NoError(t, err)
	assert.Len(t, buf, 100)
	assert.Zero(t, uintptr(unsafe.Pointer(&buf[0]))%CacheLineSize, "block must be cache-line aligned")
	assert.EqualValues(t, 128, p.InUse())
	assert.Equal(t, 1, p.Live())

	t.Run("ZeroBytes", func(t *testing.T) {
		b, err := p.Allocate(0)
		require.NoError(t, err)
		assert.Nil(t, b)
		p.Deallocate(b)
	})

	t.Run("Reuse", func(t *testing.T) {
		p.Deallocate(buf)
		assert.Zero(t, p.InUse())
		assert.EqualValues(t, 128, p.Cached())

		again, err := p.Allocate(120)
		require.NoError(t, err)
		assert.Equal(t, &buf[0], &again[0], "same class should reuse the cached block")
		assert.Zero(t, p.Cached())
		p.Deallocate(again)
	})

	t.Run("Release", func(t *testing.T) {
		assert.EqualValues(t, 128, p.Cached())
		p.Release()
		assert.Zero(t, p.Cached())
		assert.Zero(t, p.InUse())
	})

	require.NoError(t, p.Close())
}

func TestPoolContractViolations(t *testing.T) {
	p := NewPool(Host, 0)
	buf, err := p.Allocate(32)
	require.NoError(t, err)
	p.Deallocate(buf)

	assert.Panics(t, func() { p.Deallocate(buf) }, "double free")
	assert.Panics(t, func() { p.Deallocate(make([]byte, 8)) }, "foreign block")
	assert.Panics(t, func() { _, _ = p.Allocate(-1) })
}

func TestPoolLimit(t *testing.T) {
	p := NewPool(HostPinned, 256)
	a, err := p.Allocate(200)
	require.NoError(t, err)

	_, err = p.Allocate(100)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	// A cached block is dropped to make room.
	p.Deallocate(a)
	b, err := p.Allocate(100)
	require.NoError(t, err)
	assert.EqualValues(t, 128, p.InUse())
	assert.Zero(t, p.Cached())
	p.Deallocate(b)
}

func TestPoolCloseReportsLeaks(t *testing.T) {
	p := NewPool(Managed, 0)
	_, err := p.Allocate(10)
	require.NoError(t, err)
	_, err = p.Allocate(300)
	require.NoError(t, err)

	err = p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leaked")
}

func TestIndices(t *testing.T) {
	p := NewPool(Device, 0)
	idx, err := AllocateIndices(p, 10)
	require.NoError(t, err)
	require.Len(t, idx, 10)
	for i := range idx {
		idx[i] = int32(9 - i)
	}
	assert.EqualValues(t, 64, p.InUse())

	DeallocateIndices(p, idx)
	assert.Zero(t, p.Live())

	none, err := AllocateIndices(p, 0)
	require.NoError(t, err)
	assert.Nil(t, none)
	DeallocateIndices(p, none)
	require.NoError(t, p.Close())
}

func TestSpace(t *testing.T) {
	assert.Equal(t, "pinned", HostPinned.String())
	assert.Equal(t, "unknown Space", Space(42).String())
	assert.False(t, Host.DeviceAccessible())
	assert.True(t, Device.DeviceAccessible())

	s, ok := ParseSpace("managed")
	assert.True(t, ok)
	assert.Equal(t, Managed, s)
	_, ok = ParseSpace("tape")
	assert.False(t, ok)
}
