package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateTinyRoundtrip(t *testing.T) {
	a := New(2)
	buf, err := a.Allocate(10, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, buf.Capacity())

	n, err := buf.WriteBytes([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got := make([]byte, 5)
	n, err = buf.ReadBytes(got)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(got))

	assert.True(t, buf.Release())
}

func TestAllocateSmallRoundtrip(t *testing.T) {
	a := New(1)
	buf, err := a.Allocate(1000, 0)
	require.NoError(t, err)
	assert.Equal(t, 1000, buf.Capacity())

	require.NoError(t, buf.WriteUint32(0xdeadbeef))
	v, err := buf.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), v)
}

func TestAllocateNormalRoundtrip(t *testing.T) {
	a := New(1)
	buf, err := a.Allocate(20000, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, buf.Capacity(), 20000)

	require.NoError(t, buf.WriteUint64(123456789))
	v, err := buf.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), v)
}

func TestAllocateUnpooledRoundtrip(t *testing.T) {
	a := New(1)
	buf, err := a.Allocate(normalMax+1, 0)
	require.NoError(t, err)
	assert.Equal(t, normalMax+1, buf.Capacity())
	assert.True(t, buf.Release())
}

func TestReleaseReturnsPageToPool(t *testing.T) {
	a := New(1)
	bufs := make([]*Buffer, 0, 512)
	for i := 0; i < 512; i++ {
		b, err := a.Allocate(16, 0)
		require.NoError(t, err)
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		b.Release()
	}

	b, err := a.Allocate(16, 0)
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestRetainKeepsBufferAliveAcrossOneRelease(t *testing.T) {
	a := New(1)
	buf, err := a.Allocate(64, 0)
	require.NoError(t, err)

	buf.Retain()
	assert.False(t, buf.Release())
	assert.NoError(t, buf.checkAlive())
	assert.True(t, buf.Release())
}

func TestReleaseTwiceReportsAlreadyReleased(t *testing.T) {
	a := New(1)
	buf, err := a.Allocate(64, 0)
	require.NoError(t, err)

	assert.True(t, buf.Release())
	_, err = buf.ReadUint8()
	assert.ErrorIs(t, err, ErrAlreadyReleased)
}

func TestEnsureWritableGrowsWithinMaxCapacity(t *testing.T) {
	a := New(1)
	buf, err := a.Allocate(16, 64)
	require.NoError(t, err)

	require.NoError(t, buf.EnsureWritable(64))
	assert.GreaterOrEqual(t, buf.Capacity(), 64)

	err = buf.EnsureWritable(1024)
	assert.Error(t, err)
}

func TestDiscardReadBytesCompacts(t *testing.T) {
	a := New(1)
	buf, err := a.Allocate(32, 0)
	require.NoError(t, err)

	_, err = buf.WriteBytes([]byte("abcdef"))
	require.NoError(t, err)
	_, err = buf.ReadUint8()
	require.NoError(t, err)
	_, err = buf.ReadUint8()
	require.NoError(t, err)

	buf.DiscardReadBytes()
	assert.Equal(t, 0, buf.ReaderIndex())
	assert.Equal(t, 4, buf.WriterIndex())

	rest := make([]byte, 4)
	_, err = buf.ReadBytes(rest)
	require.NoError(t, err)
	assert.Equal(t, "cdef", string(rest))
}

func TestSliceSharesMemory(t *testing.T) {
	a := New(1)
	buf, err := a.Allocate(32, 0)
	require.NoError(t, err)
	_, err = buf.WriteBytes([]byte("0123456789"))
	require.NoError(t, err)

	s, err := buf.Slice(2, 4)
	require.NoError(t, err)
	got := make([]byte, 4)
	_, err = s.ReadBytes(got)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(got))
}

func TestLittleEndianAccessors(t *testing.T) {
	a := New(1)
	buf, err := a.Allocate(16, 0)
	require.NoError(t, err)

	require.NoError(t, buf.WriteUint16LE(0x0102))
	v, err := buf.ReadUint16LE()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), v)
}
