// Package mpi connects the transport boundary to MPI_COMM_WORLD.
//
// Building with -tags mpi links the system MPI library through cgo.  Without
// the tag the package degrades to a single rank backed by an in-process
// world, so the driver runs unchanged on machines without MPI.
package mpi
