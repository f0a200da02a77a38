package exec

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanl/halo-exchange/device"
	"github.com/lanl/halo-exchange/internal/contract"
	"github.com/lanl/halo-exchange/persistent"
)

func TestKindNames(t *testing.T) {
	for _, k := range []Kind{KindSeq, KindParallel, KindNativeType, KindStream, KindPersistent, KindBatch} {
		back, ok := ParseKind(k.String())
		require.True(t, ok, k.String())
		assert.Equal(t, k, back)
	}
	_, ok := ParseKind("warp")
	assert.False(t, ok)
	assert.Equal(t, "unknown Kind", Kind(42).String())

	assert.False(t, KindSeq.Async())
	assert.False(t, KindNativeType.Async())
	assert.True(t, KindStream.Async())
	assert.True(t, KindBatch.Async())
}

func TestFlatten(t *testing.T) {
	n, fn := flatten2D(1, 3, 5, 8, func(i, j int) {})
	assert.Equal(t, 6, n)
	assert.NotNil(t, fn)

	var got [][2]int
	n, fn = flatten2D(1, 3, 5, 8, func(i, j int) { got = append(got, [2]int{i, j}) })
	for idx := 0; idx < n; idx++ {
		fn(idx)
	}
	assert.Equal(t, [][2]int{{1, 5}, {1, 6}, {1, 7}, {2, 5}, {2, 6}, {2, 7}}, got)

	var got3 [][3]int
	n, fn = flatten3D(0, 2, 0, 2, 3, 5, func(i, j, k int) { got3 = append(got3, [3]int{i, j, k}) })
	require.Equal(t, 8, n)
	for idx := 0; idx < n; idx++ {
		fn(idx)
	}
	assert.Equal(t, [3]int{0, 0, 3}, got3[0])
	assert.Equal(t, [3]int{0, 0, 4}, got3[1])
	assert.Equal(t, [3]int{0, 1, 3}, got3[2])
	assert.Equal(t, [3]int{1, 1, 4}, got3[7])

	n, _ = flatten2D(3, 3, 0, 10, func(i, j int) {})
	assert.Zero(t, n)
	n, _ = flatten3D(0, 1, 0, 1, 4, 2, func(i, j, k int) {})
	assert.Zero(t, n)
}

// contexts returns one instance of every variant, cleaned up with t.
func contexts(t *testing.T) map[string]Context {
	t.Helper()
	s1, s2, s3 := device.NewStream(1), device.NewStream(2), device.NewStream(3)
	eng := persistent.NewEngine(s3, 0)
	t.Cleanup(func() {
		eng.Stop()
		s1.Close()
		s2.Close()
		s3.Close()
	})
	p := NewPersistent(eng)
	p.PersistentLaunch()
	return map[string]Context{
		"seq":        NewSeq(),
		"parallel":   NewParallel(4),
		"native":     NewNativeType(),
		"stream":     NewStream(s1),
		"batch":      NewBatch(s2, 4),
		"persistent": p,
	}
}

func TestForAllCoversRange(t *testing.T) {
	for name, c := range contexts(t) {
		t.Run(name, func(t *testing.T) {
			const n = 5000
			hits := make([]int32, n)
			c.ForAll(0, n, func(i int) { atomic.AddInt32(&hits[i], 1) })
			c.ForAll(10, 10, func(i int) { t.Error("empty range ran") })

			grid := make([]int32, 6*7*8)
			c.ForAll3D(0, 6, 0, 7, 0, 8, func(i, j, k int) {
				atomic.AddInt32(&grid[(i*7+j)*8+k], 1)
			})
			plane := make([]int32, 3*9)
			c.ForAll2D(2, 5, 0, 9, func(i, j int) {
				atomic.AddInt32(&plane[(i-2)*9+j], 1)
			})
			c.Synchronize()

			for i := range hits {
				assert.EqualValues(t, 1, hits[i], "index %d", i)
			}
			for i := range grid {
				assert.EqualValues(t, 1, grid[i], "cell %d", i)
			}
			for i := range plane {
				assert.EqualValues(t, 1, plane[i], "cell %d", i)
			}
		})
	}
}

func TestEventLifecycle(t *testing.T) {
	for name, c := range contexts(t) {
		t.Run(name, func(t *testing.T) {
			var n atomic.Int32
			c.ForAll(0, 100, func(int) { n.Add(1) })
			e := c.CreateEvent()
			c.RecordEvent(e)
			c.WaitEvent(e)
			assert.True(t, c.QueryEvent(e))
			assert.EqualValues(t, 100, n.Load())

			// Recording again rebinds the event.
			c.ForAll(0, 10, func(int) { n.Add(1) })
			c.RecordEvent(e)
			c.WaitEvent(e)
			assert.EqualValues(t, 110, n.Load())

			c.DestroyEvent(e)
		})
	}
}

func TestEventContract(t *testing.T) {
	c := NewSeq()
	isViolation := func(t *testing.T, fn func()) {
		t.Helper()
		defer func() {
			r := recover()
			require.NotNil(t, r)
			_, ok := r.(*contract.Violation)
			assert.True(t, ok, "panic value %v", r)
		}()
		fn()
	}

	e := c.CreateEvent()
	isViolation(t, func() { c.QueryEvent(e) })
	isViolation(t, func() { c.WaitEvent(e) })

	c.RecordEvent(e)
	c.DestroyEvent(e)
	isViolation(t, func() { c.QueryEvent(e) })
	isViolation(t, func() { c.RecordEvent(e) })
	isViolation(t, func() { c.DestroyEvent(e) })
	isViolation(t, func() { c.WaitEvent(nil) })
}

func TestStreamEventGatesOnWork(t *testing.T) {
	s := device.NewStream(0)
	defer s.Close()
	c := NewStream(s)
	assert.Same(t, s, c.Stream())

	gate := make(chan struct{})
	c.ForAll(0, 1, func(int) { <-gate })
	e := c.CreateEvent()
	c.RecordEvent(e)
	assert.False(t, c.QueryEvent(e))
	close(gate)
	c.WaitEvent(e)
	assert.True(t, c.QueryEvent(e))
}

func TestParallelWorkers(t *testing.T) {
	assert.Equal(t, 3, NewParallel(3).Workers())
	assert.Positive(t, NewParallel(0).Workers())

	// A single worker runs inline and in order.
	c := NewParallel(1)
	var got []int
	c.ForAll(0, 5000, func(i int) { got = append(got, i) })
	require.Len(t, got, 5000)
	assert.Equal(t, 4999, got[4999])
}

func TestBatchDefersUntilLaunch(t *testing.T) {
	s := device.NewStream(0)
	defer s.Close()
	c := NewBatch(s, 3)
	assert.Same(t, s, c.Stream())

	var n atomic.Int32
	c.ForAll(0, 4, func(int) { n.Add(1) })
	c.ForAll(0, 4, func(int) { n.Add(1) })
	assert.Equal(t, 2, c.Pending())
	s.Synchronize()
	assert.Zero(t, n.Load(), "deferred work ran before launch")

	c.BatchLaunch()
	assert.Zero(t, c.Pending())
	s.Synchronize()
	assert.EqualValues(t, 8, n.Load())

	// Reaching the limit launches on its own.
	for i := 0; i < 3; i++ {
		c.ForAll(0, 1, func(int) { n.Add(1) })
	}
	assert.Zero(t, c.Pending())
	s.Synchronize()
	assert.EqualValues(t, 11, n.Load())

	c.PersistentLaunch()
	c.PersistentStop()
}

func TestBatchEventLaunchesOnWait(t *testing.T) {
	s := device.NewStream(0)
	defer s.Close()
	c := NewBatch(s, 0)

	var n atomic.Int32
	c.ForAll(0, 7, func(int) { n.Add(1) })
	e := c.CreateEvent()
	c.RecordEvent(e)
	assert.False(t, c.QueryEvent(e))
	assert.Equal(t, 2, c.Pending())

	c.WaitEvent(e)
	assert.EqualValues(t, 7, n.Load())
	assert.Zero(t, c.Pending())

	// With nothing deferred the event follows the stream.
	c.RecordEvent(e)
	c.WaitEvent(e)
	assert.True(t, c.QueryEvent(e))
}

func TestBatchSynchronizeLaunches(t *testing.T) {
	s := device.NewStream(0)
	defer s.Close()
	c := NewBatch(s, 100)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		c.ForAll(0, 2, func(int) { n.Add(1) })
	}
	c.Synchronize()
	assert.EqualValues(t, 20, n.Load())
}

func TestPersistentIdleDeferral(t *testing.T) {
	s := device.NewStream(0)
	eng := persistent.NewEngine(s, 8)
	defer func() {
		eng.Stop()
		s.Close()
	}()
	c := NewPersistent(eng)
	assert.False(t, c.Running())

	var n atomic.Int32
	c.ForAll(0, 5, func(int) { n.Add(1) })
	c.BatchLaunch()
	c.Synchronize()
	assert.Zero(t, n.Load(), "work ran before the kernel was launched")

	e := c.CreateEvent()
	c.RecordEvent(e)
	assert.False(t, c.QueryEvent(e))
	assert.Panics(t, func() { c.WaitEvent(e) })

	c.PersistentLaunch()
	assert.True(t, c.Running())
	c.WaitEvent(e)
	assert.EqualValues(t, 5, n.Load())

	c.PersistentStop()
	assert.False(t, c.Running())
}

func TestPersistentStopRefusesWorkUntilRelaunch(t *testing.T) {
	s := device.NewStream(0)
	eng := persistent.NewEngine(s, 8)
	defer func() {
		eng.Stop()
		s.Close()
	}()
	c := NewPersistent(eng)

	c.PersistentLaunch()
	c.PersistentStop()
	require.False(t, c.Running())

	var n atomic.Int32
	c.ForAll(0, 3, func(int) { n.Add(1) })
	c.Synchronize()
	assert.Zero(t, n.Load(), "work ran after the kernel was stopped")

	c.PersistentLaunch()
	c.Synchronize()
	assert.EqualValues(t, 3, n.Load())
	c.PersistentStop()
}

func TestPersistentConcurrentSubmitters(t *testing.T) {
	s := device.NewStream(0)
	eng := persistent.NewEngine(s, 16)
	defer func() {
		eng.Stop()
		s.Close()
	}()
	c := NewPersistent(eng)
	c.PersistentLaunch()

	var n atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.ForAll(0, 3, func(int) { n.Add(1) })
			}
		}()
	}
	wg.Wait()
	c.Synchronize()
	assert.EqualValues(t, 4*200*3, n.Load())
}
