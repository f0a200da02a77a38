// Package local implements an in-process transport.  Each rank of a World is
// a Comm used by one goroutine.  Sends are eager and buffered, so Isend
// completes at once, and messages between a pair of ranks on one tag are
// matched in the order they were sent.
package local

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lanl/halo-exchange/transport"
)

// route identifies a matching queue.
type route struct {
	src, dst, tag int
}

// recv is a posted receive waiting for a message.
type recv struct {
	buf   []byte
	count int
	dt    *transport.Datatype
	op    *op
}

// A World is a set of ranks connected in memory.
type World struct {
	size int
	log  *zap.Logger

	mu         sync.Mutex
	unexpected map[route][][]byte
	posted     map[route][]*recv
}

// NewWorld creates a world of size ranks.
func NewWorld(size int) *World {
	if size < 1 {
		size = 1
	}
	return &World{
		size:       size,
		log:        zap.L().Named("local"),
		unexpected: make(map[route][][]byte),
		posted:     make(map[route][]*recv),
	}
}

// Size returns the number of ranks.
func (w *World) Size() int {
	return w.size
}

// Comm returns the communicator for rank.
func (w *World) Comm(rank int) *Comm {
	if rank < 0 || rank >= w.size {
		panic(fmt.Sprintf("local: rank %d outside a world of %d", rank, w.size))
	}
	return &Comm{w: w, rank: rank}
}

// Outstanding returns the number of sent messages not yet received and the
// number of receives not yet matched.
func (w *World) Outstanding() (messages, receives int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, q := range w.unexpected {
		messages += len(q)
	}
	for _, q := range w.posted {
		receives += len(q)
	}
	return messages, receives
}

// A Comm is one rank's view of a World.
type Comm struct {
	w    *World
	rank int
}

var _ transport.Comm = (*Comm)(nil)

// Rank returns the caller's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks.
func (c *Comm) Size() int { return c.w.size }

func (c *Comm) checkPeer(peer int) error {
	if peer < 0 || peer >= c.w.size {
		return fmt.Errorf("%w: %d not in [0, %d)", transport.ErrRank, peer, c.w.size)
	}
	return nil
}

// Isend packs the outgoing data and completes immediately.
func (c *Comm) Isend(buf []byte, count int, dt *transport.Datatype, dest, tag int, req *transport.Request) error {
	if err := c.checkPeer(dest); err != nil {
		return err
	}
	msg := make([]byte, dt.PackSize(count))
	pos := 0
	if err := transport.Pack(buf, count, dt, msg, &pos); err != nil {
		return err
	}

	key := route{c.rank, dest, tag}
	w := c.w
	w.mu.Lock()
	var r *recv
	if q := w.posted[key]; len(q) > 0 {
		r = q[0]
		w.posted[key] = q[1:]
	} else {
		w.unexpected[key] = append(w.unexpected[key], msg)
	}
	w.mu.Unlock()

	if r != nil {
		r.op.finish(deliver(msg, r))
	}
	w.log.Debug("isend", zap.Int("src", c.rank), zap.Int("dst", dest), zap.Int("tag", tag), zap.Int("bytes", len(msg)))
	req.Start(transport.Completed{})
	return nil
}

// Irecv posts a receive that completes when a matching message arrives.
func (c *Comm) Irecv(buf []byte, count int, dt *transport.Datatype, src, tag int, req *transport.Request) error {
	if err := c.checkPeer(src); err != nil {
		return err
	}
	r := &recv{buf: buf, count: count, dt: dt, op: newOp()}
	key := route{src, c.rank, tag}
	w := c.w
	w.mu.Lock()
	var msg []byte
	if q := w.unexpected[key]; len(q) > 0 {
		msg = q[0]
		q[0] = nil
		w.unexpected[key] = q[1:]
	} else {
		w.posted[key] = append(w.posted[key], r)
	}
	w.mu.Unlock()

	if msg != nil {
		r.op.finish(deliver(msg, r))
	}
	req.Start(r.op)
	return nil
}

// deliver unpacks msg into a posted receive.
func deliver(msg []byte, r *recv) error {
	if len(msg) > r.dt.PackSize(r.count) {
		return fmt.Errorf("%w: %d-byte message for a %d-byte receive",
			transport.ErrTruncate, len(msg), r.dt.PackSize(r.count))
	}
	n, err := transport.Elements(len(msg), r.dt)
	if err != nil {
		return err
	}
	pos := 0
	return transport.Unpack(msg, &pos, r.buf, n, r.dt)
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

// op is the completion of a receive.
type op struct {
	done chan struct{}
	err  error
}

func newOp() *op {
	return &op{done: make(chan struct{})}
}

func (o *op) finish(err error) {
	o.err = err
	close(o.done)
}

func (o *op) Test() (bool, error) {
	select {
	case <-o.done:
		return true, o.err
	default:
		return false, nil
	}
}

func (o *op) Wait() error {
	<-o.done
	return o.err
}
