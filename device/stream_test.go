package device

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamOrder(t *testing.T) {
	s := NewStream(3)
	defer s.Close()
	assert.Equal(t, 3, s.ID())

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		s.Launch(func() { got = append(got, i) })
	}
	s.Synchronize()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestStreamEvent(t *testing.T) {
	s := NewStream(0)
	defer s.Close()

	gate := make(chan struct{})
	var ran atomic.Bool
	s.Launch(func() { <-gate; ran.Store(true) })
	e := s.Record()
	assert.False(t, e.Query(), "event must not complete before the gated work")

	close(gate)
	e.Wait()
	assert.True(t, e.Query())
	assert.True(t, ran.Load())
}

func TestStreamClose(t *testing.T) {
	s := NewStream(1)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		s.Launch(func() { n.Add(1) })
	}
	s.Close()
	assert.EqualValues(t, 10, n.Load(), "close drains pending work")
	assert.Panics(t, func() { s.Launch(func() {}) })
	s.Close()
}

func TestCompletedEvent(t *testing.T) {
	e := CompletedEvent()
	assert.True(t, e.Query())
	e.Wait()
}
