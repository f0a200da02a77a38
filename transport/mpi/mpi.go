// This file binds the transport to an MPI library.  MPI errors are returned
// rather than fatal, and the library must provide MPI_THREAD_MULTIPLE since
// sends may be issued from device-stream goroutines.

//go:build mpi

package mpi

/*
#cgo LDFLAGS: -lmpi
#include <stdlib.h>
#include <mpi.h>

static int haloex_init(int *provided) {
	int rc = MPI_Init_thread(NULL, NULL, MPI_THREAD_MULTIPLE, provided);
	if (rc != MPI_SUCCESS)
		return rc;
	return MPI_Comm_set_errhandler(MPI_COMM_WORLD, MPI_ERRORS_RETURN);
}

static int haloex_thread_multiple(void) { return MPI_THREAD_MULTIPLE; }

static int haloex_isend(void *buf, int n, int dest, int tag, MPI_Request *req) {
	return MPI_Isend(buf, n, MPI_BYTE, dest, tag, MPI_COMM_WORLD, req);
}

static int haloex_irecv(void *buf, int n, int src, int tag, MPI_Request *req) {
	return MPI_Irecv(buf, n, MPI_BYTE, src, tag, MPI_COMM_WORLD, req);
}

static int haloex_test(MPI_Request *req, int *flag, int *count) {
	MPI_Status st;
	int rc = MPI_Test(req, flag, &st);
	if (rc == MPI_SUCCESS && *flag)
		rc = MPI_Get_count(&st, MPI_BYTE, count);
	return rc;
}

static int haloex_wait(MPI_Request *req, int *count) {
	MPI_Status st;
	int rc = MPI_Wait(req, &st);
	if (rc == MPI_SUCCESS)
		rc = MPI_Get_count(&st, MPI_BYTE, count);
	return rc;
}

static int haloex_barrier(void) { return MPI_Barrier(MPI_COMM_WORLD); }

static int haloex_gather(double *in, int n, double *out) {
	return MPI_Gather(in, n, MPI_DOUBLE, out, n, MPI_DOUBLE, 0, MPI_COMM_WORLD);
}

static int haloex_allreduce_sum(long *in, long *out, int n) {
	return MPI_Allreduce(in, out, n, MPI_LONG, MPI_SUM, MPI_COMM_WORLD);
}

static int haloex_size(int *n) { return MPI_Comm_size(MPI_COMM_WORLD, n); }
static int haloex_rank(int *r) { return MPI_Comm_rank(MPI_COMM_WORLD, r); }

static void haloex_error_string(int code, char *buf) {
	int n;
	MPI_Error_string(code, buf, &n);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/lanl/halo-exchange/transport"
)

// Enabled reports whether the package is linked against MPI.
const Enabled = true

// mpiError converts an MPI return code into an error.
func mpiError(op string, rc C.int) error {
	if rc == C.MPI_SUCCESS {
		return nil
	}
	buf := (*C.char)(C.malloc(C.size_t(C.MPI_MAX_ERROR_STRING)))
	defer C.free(unsafe.Pointer(buf))
	C.haloex_error_string(rc, buf)
	return fmt.Errorf("mpi: %s: %s", op, C.GoString(buf))
}

// Init initializes MPI.
func Init() error {
	var provided C.int
	if err := mpiError("init", C.haloex_init(&provided)); err != nil {
		return err
	}
	if provided < C.haloex_thread_multiple() {
		return fmt.Errorf("mpi: library provides thread level %d, need MPI_THREAD_MULTIPLE", int(provided))
	}
	return nil
}

// Finalize finalizes MPI.
func Finalize() error {
	return mpiError("finalize", C.MPI_Finalize())
}

// Barrier blocks until every rank has entered it.
func Barrier() error {
	return mpiError("barrier", C.haloex_barrier())
}

// Gather concatenates every rank's in on rank 0, in rank order.  All ranks
// must pass the same length.  Ranks other than 0 receive nil.
func Gather(in []float64) ([]float64, error) {
	w, err := World()
	if err != nil {
		return nil, err
	}
	n := len(in)
	if n == 0 {
		return nil, nil
	}
	var out []float64
	var outp *C.double
	if w.rank == 0 {
		out = make([]float64, n*w.size)
		outp = (*C.double)(unsafe.Pointer(&out[0]))
	}
	rc := C.haloex_gather((*C.double)(unsafe.Pointer(&in[0])), C.int(n), outp)
	if err := mpiError("gather", rc); err != nil {
		return nil, err
	}
	return out, nil
}

// AllreduceSum returns the sum of every rank's n on all ranks.
func AllreduceSum(n int) (int, error) {
	in, out := C.long(n), C.long(0)
	if err := mpiError("allreduce", C.haloex_allreduce_sum(&in, &out, 1)); err != nil {
		return 0, err
	}
	return int(out), nil
}

var (
	worldOnce sync.Once
	world     *Comm
	worldErr  error
)

// World returns the communicator for MPI_COMM_WORLD.  Init must have been
// called.
func World() (*Comm, error) {
	worldOnce.Do(func() {
		var size, rank C.int
		if worldErr = mpiError("comm size", C.haloex_size(&size)); worldErr != nil {
			return
		}
		if worldErr = mpiError("comm rank", C.haloex_rank(&rank)); worldErr != nil {
			return
		}
		world = &Comm{
			rank: int(rank),
			size: int(size),
			log:  zap.L().Named("mpi").With(zap.Int("rank", int(rank))),
		}
	})
	return world, worldErr
}

// A Comm wraps MPI_COMM_WORLD.  Data is staged through C memory so that MPI
// never holds Go pointers; derived datatypes are packed on the Go side and
// travel as MPI_BYTE.
type Comm struct {
	rank, size int
	log        *zap.Logger
}

var _ transport.Comm = (*Comm)(nil)

// Rank returns the caller's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks.
func (c *Comm) Size() int { return c.size }

func (c *Comm) checkPeer(peer int) error {
	if peer < 0 || peer >= c.size {
		return fmt.Errorf("%w: %d not in [0, %d)", transport.ErrRank, peer, c.size)
	}
	return nil
}

// staged is one MPI operation and the C memory it owns.
type staged struct {
	req   *C.MPI_Request
	buf   unsafe.Pointer
	n     int
	recv  bool
	out   []byte // Receive destination
	count int
	dt    *transport.Datatype
	done  bool
	err   error
}

func newStaged(n int) *staged {
	s := &staged{
		req: (*C.MPI_Request)(C.malloc(C.size_t(C.sizeof_MPI_Request))),
		n:   n,
	}
	// Zero-byte operations still need a valid buffer address.
	s.buf = C.malloc(C.size_t(n + 1))
	return s
}

func (s *staged) bytes() []byte {
	return unsafe.Slice((*byte)(s.buf), s.n)
}

// finish releases the C memory and, for receives, unpacks what arrived.
func (s *staged) finish(received int, err error) error {
	s.done = true
	if err == nil && s.recv {
		err = s.unpack(received)
	}
	C.free(s.buf)
	C.free(unsafe.Pointer(s.req))
	s.err = err
	return err
}

func (s *staged) unpack(received int) error {
	n, err := transport.Elements(received, s.dt)
	if err != nil {
		return err
	}
	pos := 0
	return transport.Unpack(s.bytes()[:received], &pos, s.out, n, s.dt)
}

func (s *staged) Test() (bool, error) {
	if s.done {
		return true, s.err
	}
	var flag, count C.int
	if err := mpiError("test", C.haloex_test(s.req, &flag, &count)); err != nil {
		return true, s.finish(0, err)
	}
	if flag == 0 {
		return false, nil
	}
	return true, s.finish(int(count), nil)
}

func (s *staged) Wait() error {
	if s.done {
		return s.err
	}
	var count C.int
	err := mpiError("wait", C.haloex_wait(s.req, &count))
	return s.finish(int(count), err)
}

// Isend copies the outgoing data into C memory and starts MPI_Isend.
func (c *Comm) Isend(buf []byte, count int, dt *transport.Datatype, dest, tag int, req *transport.Request) error {
	if err := c.checkPeer(dest); err != nil {
		return err
	}
	s := newStaged(dt.PackSize(count))
	pos := 0
	if err := transport.Pack(buf, count, dt, s.bytes(), &pos); err != nil {
		s.finish(0, nil)
		return err
	}
	rc := C.haloex_isend(s.buf, C.int(s.n), C.int(dest), C.int(tag), s.req)
	if err := mpiError("isend", rc); err != nil {
		s.finish(0, nil)
		return err
	}
	c.log.Debug("isend", zap.Int("dst", dest), zap.Int("tag", tag), zap.Int("bytes", s.n))
	req.Start(s)
	return nil
}

// Irecv starts MPI_Irecv into C memory; the data is unpacked into buf when
// the request completes.
func (c *Comm) Irecv(buf []byte, count int, dt *transport.Datatype, src, tag int, req *transport.Request) error {
	if err := c.checkPeer(src); err != nil {
		return err
	}
	s := newStaged(dt.PackSize(count))
	s.recv, s.out, s.count, s.dt = true, buf, count, dt
	rc := C.haloex_irecv(s.buf, C.int(s.n), C.int(src), C.int(tag), s.req)
	if err := mpiError("irecv", rc); err != nil {
		s.recv = false
		s.finish(0, nil)
		return err
	}
	req.Start(s)
	return nil
}

// Pack implements the structured pack primitive.
func (*Comm) Pack(in []byte, count int, dt *transport.Datatype, out []byte, pos *int) error {
	return transport.Pack(in, count, dt, out, pos)
}

// Unpack implements the structured unpack primitive.
func (*Comm) Unpack(in []byte, pos *int, out []byte, count int, dt *transport.Datatype) error {
	return transport.Unpack(in, pos, out, count, dt)
}

// PackSize returns the bytes Pack needs for count elements of dt.
func (*Comm) PackSize(count int, dt *transport.Datatype) int {
	return dt.PackSize(count)
}
