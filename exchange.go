// This file runs the halo exchange on each rank and across a set of
// in-process ranks.

package main

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lanl/halo-exchange/comm"
	"github.com/lanl/halo-exchange/device"
	"github.com/lanl/halo-exchange/exec"
	"github.com/lanl/halo-exchange/memory"
	"github.com/lanl/halo-exchange/persistent"
	"github.com/lanl/halo-exchange/transport"
	"github.com/lanl/halo-exchange/transport/local"
	"github.com/lanl/halo-exchange/transport/mpi"
)

// Message tags by direction of travel along z.
const (
	tagDown = iota
	tagUp
)

// A RankResult is what one rank reports after its run.
type RankResult struct {
	Rank          int       // The reporting rank
	CycleSeconds  []float64 // Wall time of each exchange cycle
	BytesPerCycle int       // Bytes the rank sends per cycle
	BadGhosts     int       // Ghost cells that did not hold the expected value
}

// A rankState holds everything one rank owns during a run.
type rankState struct {
	p      *Parameters
	c      transport.Comm
	con    exec.Context
	stream *device.Stream
	engine *persistent.Engine
	pool   *memory.Pool
	vars   [][]float64
	sends  []*comm.Message[float64]
	recvs  []*comm.Message[float64]
	log    *zap.Logger
}

// newContext builds the execution context the policy names.
func (r *rankState) newContext() {
	p := r.p
	if p.Policy.Async() {
		r.stream = device.NewStream(r.c.Rank())
	}
	switch p.Policy {
	case exec.KindSeq:
		r.con = exec.NewSeq()
	case exec.KindParallel:
		r.con = exec.NewParallel(p.Workers)
	case exec.KindNativeType:
		r.con = exec.NewNativeType()
	case exec.KindStream:
		r.con = exec.NewStream(r.stream)
	case exec.KindBatch:
		r.con = exec.NewBatch(r.stream, p.BatchSize)
	case exec.KindPersistent:
		r.engine = persistent.NewEngine(r.stream, p.QueueCapacity)
		r.con = exec.NewPersistent(r.engine)
	}
}

// newRank prepares rank state, initializes the grid and builds the
// messages.
func newRank(p *Parameters, c transport.Comm) (*rankState, error) {
	r := &rankState{
		p:   p,
		c:   c,
		log: zap.L().Named("exchange").With(zap.Int("rank", c.Rank())),
	}
	r.newContext()
	space := memory.Host
	if p.Policy.Async() || p.Backend == comm.Direct {
		space = memory.Device
	}
	r.pool = memory.NewPool(space, p.PoolLimit)

	// Fill the interior with analytic values and the ghosts with a
	// sentinel.
	g := p.Grid
	r.vars = make([][]float64, p.Vars)
	for v := range r.vars {
		data := make([]float64, g.Cells())
		for i := 0; i < g.NX; i++ {
			for j := 0; j < g.NY; j++ {
				for k := 0; k < g.LZ(); k++ {
					val := -1.0
					if k >= g.Ghost && k < g.Ghost+g.NZ {
						val = InitialValue(v, i, j, globalPlane(g, c.Rank(), c.Size(), k))
					}
					data[g.Index(i, j, k)] = val
				}
			}
		}
		r.vars[v] = data
	}

	if err := r.buildMessages(); err != nil {
		return nil, multierr.Append(err, r.close())
	}
	return r, nil
}

// newMessage builds a message carrying the Ghost planes at k0 of every
// variable.
func (r *rankState) newMessage(partner, tag, k0 int) (*comm.Message[float64], error) {
	p, g := r.p, r.p.Grid
	m, err := comm.NewMessage[float64](p.Backend, p.Policy, partner, tag, p.Vars > 1)
	if err != nil {
		return nil, err
	}
	n := g.SlabCells()
	for _, data := range r.vars {
		if p.Policy == exec.KindNativeType {
			dt := g.SlabType(k0)
			m.Add(data, nil, nil, n, dt, r.c.PackSize(1, dt))
			continue
		}
		idx, err := memory.AllocateIndices(r.pool, n)
		if err != nil {
			m.Destroy()
			return nil, err
		}
		g.FillSlab(idx, k0)
		m.Add(data, idx, r.pool, n, nil, 0)
	}
	return m, nil
}

// buildMessages creates one send and one receive per neighbour.
func (r *rankState) buildMessages() error {
	g := r.p.Grid
	rank, size := r.c.Rank(), r.c.Size()
	lower, upper := (rank+size-1)%size, (rank+1)%size

	specs := []struct {
		send         bool
		partner, tag int
		k0           int
	}{
		{true, lower, tagDown, g.Ghost},         // Lowest interior planes
		{true, upper, tagUp, g.NZ},              // Highest interior planes
		{false, upper, tagDown, g.NZ + g.Ghost}, // Upper ghosts
		{false, lower, tagUp, 0},                // Lower ghosts
	}
	for _, s := range specs {
		m, err := r.newMessage(s.partner, s.tag, s.k0)
		if err != nil {
			return err
		}
		if s.send {
			r.sends = append(r.sends, m)
		} else {
			r.recvs = append(r.recvs, m)
		}
	}
	return nil
}

// cycle performs one complete exchange.
func (r *rankState) cycle() error {
	con, c := r.con, r.c
	con.PersistentLaunch()
	defer con.PersistentStop()

	// Post receives first so eager sends find them.
	rreqs := make([]*transport.Request, len(r.recvs))
	for i, m := range r.recvs {
		if err := m.Allocate(con, c, r.pool); err != nil {
			return err
		}
		rreqs[i] = new(transport.Request)
		if err := m.StartRecv(con, c, rreqs[i]); err != nil {
			return err
		}
	}

	for _, m := range r.sends {
		if err := m.Allocate(con, c, r.pool); err != nil {
			return err
		}
		if err := m.Pack(con, c); err != nil {
			return err
		}
	}

	// Sends out of host-visible buffers need the packs to have finished.
	// Direct sends are ordered behind them on the context instead.
	if r.p.Backend != comm.Direct {
		e := con.CreateEvent()
		con.RecordEvent(e)
		con.WaitEvent(e)
		con.DestroyEvent(e)
	}

	sreqs := make([]*transport.Request, len(r.sends))
	for i, m := range r.sends {
		sreqs[i] = new(transport.Request)
		if err := m.StartSend(con, c, sreqs[i]); err != nil {
			return err
		}
	}
	con.BatchLaunch()

	if err := transport.WaitAll(rreqs); err != nil {
		return err
	}
	for _, m := range r.recvs {
		if err := m.Unpack(con, c); err != nil {
			return err
		}
	}
	con.Synchronize()
	if err := transport.WaitAll(sreqs); err != nil {
		return err
	}

	for _, m := range r.recvs {
		m.Deallocate(con, c, r.pool)
	}
	for _, m := range r.sends {
		m.Deallocate(con, c, r.pool)
	}
	return nil
}

// verify counts ghost cells whose value differs from the neighbour's
// interior.
func (r *rankState) verify() int {
	g := r.p.Grid
	rank, size := r.c.Rank(), r.c.Size()
	bad := 0
	for v, data := range r.vars {
		for i := 0; i < g.NX; i++ {
			for j := 0; j < g.NY; j++ {
				for k := 0; k < g.LZ(); k++ {
					if k >= g.Ghost && k < g.Ghost+g.NZ {
						continue
					}
					want := InitialValue(v, i, j, globalPlane(g, rank, size, k))
					if data[g.Index(i, j, k)] != want {
						bad++
					}
				}
			}
		}
	}
	return bad
}

// close releases the messages, the execution resources and the pool.
func (r *rankState) close() error {
	for _, m := range r.sends {
		m.Destroy()
	}
	for _, m := range r.recvs {
		m.Destroy()
	}
	if r.engine != nil {
		r.engine.Stop()
	}
	if r.stream != nil {
		r.stream.Close()
	}
	return r.pool.Close()
}

// RunRank runs every cycle on one rank.
func RunRank(p *Parameters, c transport.Comm) (res RankResult, err error) {
	r, err := newRank(p, c)
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, r.close()) }()

	res.Rank = c.Rank()
	res.BytesPerCycle = len(r.sends) * p.Vars * p.Grid.SlabCells() * 8
	for n := 0; n < p.Cycles; n++ {
		start := time.Now()
		if err := r.cycle(); err != nil {
			return res, fmt.Errorf("rank %d cycle %d: %w", c.Rank(), n, err)
		}
		secs := time.Since(start).Seconds()
		cycleSeconds.WithLabelValues(p.Backend.String(), p.Policy.String()).Observe(secs)
		res.CycleSeconds = append(res.CycleSeconds, secs)
		r.log.Debug("cycle complete", zap.Int("cycle", n), zap.Float64("seconds", secs))
	}
	res.BadGhosts = r.verify()
	return res, nil
}

// RunLocal runs p.Ranks ranks as goroutines connected by an in-process
// world.
func RunLocal(p *Parameters) ([]RankResult, error) {
	world := local.NewWorld(p.Ranks)
	results := make([]RankResult, p.Ranks)
	var g errgroup.Group
	for rank := 0; rank < p.Ranks; rank++ {
		g.Go(func() error {
			res, err := RunRank(p, world.Comm(rank))
			results[rank] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// encodeResult flattens res for gathering.  Every rank runs the same number
// of cycles, so the encoding has the same length everywhere.
func encodeResult(res RankResult) []float64 {
	out := []float64{float64(res.BytesPerCycle), float64(res.BadGhosts)}
	return append(out, res.CycleSeconds...)
}

// decodeResults reverses encodeResult over the concatenation of every
// rank's encoding.
func decodeResults(all []float64, ranks int) []RankResult {
	if ranks == 0 {
		return nil
	}
	n := len(all) / ranks
	results := make([]RankResult, ranks)
	for rank := range results {
		enc := all[rank*n : (rank+1)*n]
		results[rank] = RankResult{
			Rank:          rank,
			BytesPerCycle: int(enc[0]),
			BadGhosts:     int(enc[1]),
			CycleSeconds:  append([]float64(nil), enc[2:]...),
		}
	}
	return results
}

// RunMPI runs this process's rank of an MPI job.  Rank 0 returns every
// rank's result; the other ranks return nil, or an error if any rank saw a
// bad ghost.
func RunMPI(p *Parameters) ([]RankResult, error) {
	if err := mpi.Init(); err != nil {
		return nil, err
	}
	defer func() {
		if err := mpi.Finalize(); err != nil {
			notify.Error(err)
		}
	}()
	c, err := mpi.World()
	if err != nil {
		return nil, err
	}
	res, err := RunRank(p, c)
	if err != nil {
		return nil, err
	}

	// Collect the results on rank 0.
	all, err := mpi.Gather(encodeResult(res))
	if err != nil {
		return nil, err
	}
	bad, err := mpi.AllreduceSum(res.BadGhosts)
	if err != nil {
		return nil, err
	}
	if c.Rank() != 0 {
		if bad > 0 {
			return nil, fmt.Errorf("%d ghost cell(s) hold wrong values", bad)
		}
		return nil, nil
	}
	return decodeResults(all, c.Size()), nil
}
