package local

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanl/halo-exchange/transport"
)

func TestSendBeforeReceive(t *testing.T) {
	w := NewWorld(2)
	a, b := w.Comm(0), w.Comm(1)
	assert.Equal(t, 2, a.Size())
	assert.Equal(t, 1, b.Rank())

	var sreq, rreq transport.Request
	require.NoError(t, a.Isend([]byte("halo"), 4, transport.Byte, 1, 7, &sreq))
	require.NoError(t, sreq.Wait())
	msgs, recvs := w.Outstanding()
	assert.Equal(t, 1, msgs)
	assert.Zero(t, recvs)

	buf := make([]byte, 8)
	require.NoError(t, b.Irecv(buf, 8, transport.Byte, 0, 7, &rreq))
	require.NoError(t, rreq.Wait())
	assert.Equal(t, "halo", string(buf[:4]))
}

func TestReceiveBeforeSend(t *testing.T) {
	w := NewWorld(2)
	a, b := w.Comm(0), w.Comm(1)

	buf := make([]byte, 4)
	var rreq transport.Request
	require.NoError(t, b.Irecv(buf, 4, transport.Byte, 0, 1, &rreq))
	done, err := rreq.Test()
	require.NoError(t, err)
	assert.False(t, done)

	var sreq transport.Request
	require.NoError(t, a.Isend([]byte{1, 2, 3, 4}, 4, transport.Byte, 1, 1, &sreq))
	require.NoError(t, rreq.Wait())
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)

	msgs, recvs := w.Outstanding()
	assert.Zero(t, msgs)
	assert.Zero(t, recvs)
}

func TestMatchingOrderAndTags(t *testing.T) {
	w := NewWorld(2)
	a, b := w.Comm(0), w.Comm(1)
	var req transport.Request
	for i := byte(0); i < 3; i++ {
		require.NoError(t, a.Isend([]byte{i}, 1, transport.Byte, 1, 5, &req))
		require.NoError(t, req.Wait())
	}
	require.NoError(t, a.Isend([]byte{99}, 1, transport.Byte, 1, 6, &req))
	require.NoError(t, req.Wait())

	got := make([]byte, 1)
	require.NoError(t, b.Irecv(got, 1, transport.Byte, 0, 6, &req))
	require.NoError(t, req.Wait())
	assert.Equal(t, byte(99), got[0])
	for i := byte(0); i < 3; i++ {
		require.NoError(t, b.Irecv(got, 1, transport.Byte, 0, 5, &req))
		require.NoError(t, req.Wait())
		assert.Equal(t, i, got[0])
	}
}

func TestDerivedDatatypes(t *testing.T) {
	w := NewWorld(2)
	a, b := w.Comm(0), w.Comm(1)

	// Send a column of a 3x3 byte grid into a row of another.
	col := transport.NewVector(3, 1, 3, transport.Byte)
	defer col.Free()
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	dst := make([]byte, 9)

	var sreq, rreq transport.Request
	require.NoError(t, b.Irecv(dst[3:], 3, transport.Byte, 0, 0, &rreq))
	require.NoError(t, a.Isend(src[1:], 1, col, 1, 0, &sreq))
	require.NoError(t, transport.WaitAll([]*transport.Request{&sreq, &rreq}))
	assert.Equal(t, []byte{0, 0, 0, 2, 5, 8, 0, 0, 0}, dst)
}

func TestErrors(t *testing.T) {
	w := NewWorld(2)
	a, b := w.Comm(0), w.Comm(1)
	var req transport.Request

	assert.ErrorIs(t, a.Isend(nil, 0, transport.Byte, 2, 0, &req), transport.ErrRank)
	assert.ErrorIs(t, a.Irecv(nil, 0, transport.Byte, -1, 0, &req), transport.ErrRank)
	assert.False(t, req.Active())

	require.NoError(t, a.Isend(make([]byte, 16), 16, transport.Byte, 1, 0, &req))
	require.NoError(t, req.Wait())
	require.NoError(t, b.Irecv(make([]byte, 8), 8, transport.Byte, 0, 0, &req))
	assert.ErrorIs(t, req.Wait(), transport.ErrTruncate)

	assert.Panics(t, func() { w.Comm(5) })
}

func TestConcurrentRanks(t *testing.T) {
	const n, rounds = 4, 50
	w := NewWorld(n)
	var wg sync.WaitGroup
	errs := make([]error, n)
	got := make([][]byte, n)
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			c := w.Comm(r)
			right, left := (r+1)%n, (r+n-1)%n
			for i := 0; i < rounds; i++ {
				var sreq, rreq transport.Request
				buf := make([]byte, 1)
				if errs[r] = c.Irecv(buf, 1, transport.Byte, left, i, &rreq); errs[r] != nil {
					return
				}
				if errs[r] = c.Isend([]byte{byte(r)}, 1, transport.Byte, right, i, &sreq); errs[r] != nil {
					return
				}
				if errs[r] = transport.WaitAll([]*transport.Request{&sreq, &rreq}); errs[r] != nil {
					return
				}
				got[r] = append(got[r], buf[0])
			}
		}(r)
	}
	wg.Wait()
	for r := 0; r < n; r++ {
		require.NoError(t, errs[r])
		require.Len(t, got[r], rounds)
		for _, v := range got[r] {
			assert.Equal(t, byte((r+n-1)%n), v)
		}
	}
}
