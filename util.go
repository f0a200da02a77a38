// This file provides the grid geometry of one rank's block.

package main

import (
	"github.com/lanl/halo-exchange/transport"
)

// A Grid is one rank's block of NX x NY x (NZ + 2*Ghost) cells.  The block
// is decomposed periodically along z, so the first and last Ghost planes
// hold copies of the neighbouring ranks' interior planes.  z varies
// fastest in memory.
type Grid struct {
	NX, NY, NZ int
	Ghost      int
}

// LZ returns the number of planes including ghosts.
func (g Grid) LZ() int {
	return g.NZ + 2*g.Ghost
}

// Cells returns the number of cells including ghosts.
func (g Grid) Cells() int {
	return g.NX * g.NY * g.LZ()
}

// SlabCells returns the number of cells in Ghost consecutive planes.
func (g Grid) SlabCells() int {
	return g.NX * g.NY * g.Ghost
}

// Index returns the memory position of cell (i, j, k).
func (g Grid) Index(i, j, k int) int {
	return (i*g.NY+j)*g.LZ() + k
}

// FillSlab writes the positions of the Ghost planes starting at k0 into idx
// in memory order.
func (g Grid) FillSlab(idx []int32, k0 int) {
	n := 0
	for i := 0; i < g.NX; i++ {
		for j := 0; j < g.NY; j++ {
			for k := k0; k < k0+g.Ghost; k++ {
				idx[n] = int32(g.Index(i, j, k))
				n++
			}
		}
	}
}

// SlabType returns a datatype selecting the Ghost planes starting at k0.
func (g Grid) SlabType(k0 int) *transport.Datatype {
	return transport.NewSubarray(
		[]int{g.NX, g.NY, g.LZ()},
		[]int{g.NX, g.NY, g.Ghost},
		[]int{0, 0, k0},
		transport.Float64)
}

// InitialValue is the value variable v holds at cell (i, j) of global
// plane z.
func InitialValue(v, i, j, z int) float64 {
	return float64(v)*1e9 + float64(i)*1e6 + float64(j)*1e3 + float64(z)
}

// globalPlane maps local plane k of rank to its global plane in a periodic
// domain of ranks*nz planes.
func globalPlane(g Grid, rank, ranks, k int) int {
	total := ranks * g.NZ
	z := rank*g.NZ + k - g.Ghost
	return ((z % total) + total) % total
}
