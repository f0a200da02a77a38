// Package comm implements halo-exchange messages: ordered collections of
// application sub-regions addressed to one partner rank and tag, packed into
// a contiguous buffer, moved over a transport and unpacked on arrival.
//
// Pack and unpack work is dispatched through an exec.Context, which decides
// where and when the copies run.  A Message never stores the context.
package comm

import (
	"go.uber.org/zap"

	"github.com/lanl/halo-exchange/exec"
	"github.com/lanl/halo-exchange/internal/contract"
	"github.com/lanl/halo-exchange/memory"
	"github.com/lanl/halo-exchange/transport"
)

// A Message is one unit of communication with a partner rank.  Items are
// laid out in the buffer in the order they were added: item k's packed
// bytes start where item k-1's end.
type Message[T Elem] struct {
	backend Backend
	native  bool
	issuer  issuer
	partner int
	tag     int

	buf       []byte
	allocated bool
	maxNBytes int
	nBytes    int
	size      int
	items     []Item[T]
	haveMany  bool

	log *zap.Logger
}

// NewMessage creates an empty message for the partner rank and tag.  The
// backend and the kind of context the message will be driven with are
// checked once here; an unsupported pairing is a *ConfigError.
func NewMessage[T Elem](backend Backend, kind exec.Kind, partnerRank, tag int, haveMany bool) (*Message[T], error) {
	if err := negotiate(backend, kind); err != nil {
		return nil, err
	}
	return &Message[T]{
		backend:  backend,
		native:   kind == exec.KindNativeType,
		issuer:   issuerFor(backend),
		partner:  partnerRank,
		tag:      tag,
		haveMany: haveMany,
		log: zap.L().Named("comm").With(
			zap.Stringer("backend", backend), zap.Int("partner", partnerRank), zap.Int("tag", tag)),
	}, nil
}

// Accessors.
func (m *Message[T]) Backend() Backend { return m.backend }
func (m *Message[T]) PartnerRank() int { return m.partner }
func (m *Message[T]) Tag() int         { return m.tag }
func (m *Message[T]) Buffer() []byte   { return m.buf }
func (m *Message[T]) Size() int        { return m.size }
func (m *Message[T]) MaxNBytes() int   { return m.maxNBytes }
func (m *Message[T]) NBytes() int      { return m.nBytes }
func (m *Message[T]) HaveMany() bool   { return m.haveMany }
func (m *Message[T]) Len() int         { return len(m.items) }
func (m *Message[T]) Items() []Item[T] { return m.items }
func (m *Message[T]) Allocated() bool  { return m.allocated }
func (m *Message[T]) NativePath() bool { return m.native }

// Add appends an item.  The message takes ownership of indices, which must
// have come from alloc, and of dt.  With dt set, maxPackedBytes is the
// item's share of the buffer; otherwise size elements are.
func (m *Message[T]) Add(data []T, indices []int32, alloc memory.Allocator, size int, dt *transport.Datatype, maxPackedBytes int) {
	contract.Require(size >= 0, "comm: negative item size %d", size)
	contract.Require(indices == nil || len(indices) >= size,
		"comm: %d indices for an item of %d elements", len(indices), size)
	contract.Require(!m.allocated, "comm: add to an allocated message")
	contract.Require(!m.native || dt != nil, "comm: native message item without a datatype")

	nbytes := size * width[T]()
	if dt != nil {
		// The generic copy path still writes size elements into the
		// item's share.
		contract.Require(maxPackedBytes >= nbytes,
			"comm: item packs to at most %d bytes but holds %d", maxPackedBytes, nbytes)
		nbytes = maxPackedBytes
	}
	m.items = append(m.items, Item[T]{
		Data:           data,
		Indices:        indices,
		Size:           size,
		Type:           dt,
		MaxPackedBytes: maxPackedBytes,
		alloc:          alloc,
	})
	m.maxNBytes += nbytes
	m.nBytes += nbytes
	m.size += size
}

// checkContext enforces the negotiated context kind.
func (m *Message[T]) checkContext(con exec.Context, op string) {
	contract.Require(con != nil, "comm: %s with nil context", op)
	native := con.Kind() == exec.KindNativeType
	contract.Require(native == m.native,
		"comm: %s of a message negotiated for native=%t with a %s context", op, m.native, con.Kind())
}

// nativeSingle reports whether the item's own memory travels without a
// staging buffer.
func (m *Message[T]) nativeSingle() bool {
	return m.native && len(m.items) == 1
}

func (m *Message[T]) requireAllocated(op string) {
	contract.Require(m.allocated, "comm: %s before allocate", op)
}

// Allocate obtains the staging buffer from alloc.  It does nothing when
// the message is already allocated.  A native message with a single item
// needs no buffer.
func (m *Message[T]) Allocate(con exec.Context, c transport.Comm, alloc memory.Allocator) error {
	m.checkContext(con, "allocate")
	if m.allocated {
		return nil
	}
	if !m.nativeSingle() {
		buf, err := alloc.Allocate(m.maxNBytes)
		if err != nil {
			return err
		}
		m.buf = buf
	}
	m.allocated = true
	return nil
}

// Deallocate returns the staging buffer to alloc.  It does nothing when the
// message holds no buffer.
func (m *Message[T]) Deallocate(con exec.Context, c transport.Comm, alloc memory.Allocator) {
	m.checkContext(con, "deallocate")
	if m.buf != nil {
		alloc.Deallocate(m.buf)
	}
	m.buf = nil
	m.allocated = false
}

// Pack gathers every item into the buffer.  On asynchronous contexts the
// copies may still be running when Pack returns.
func (m *Message[T]) Pack(con exec.Context, c transport.Comm) error {
	m.checkContext(con, "pack")
	m.requireAllocated("pack")

	switch {
	case m.nativeSingle():
		m.nBytes = m.items[0].Size * width[T]()
		m.log.Debug("pack skipped", zap.Int("bytes", m.nBytes))
		return nil

	case m.native:
		pos := 0
		for i := range m.items {
			it := &m.items[i]
			if err := c.Pack(asBytes(it.Data), 1, it.Type, m.buf, &pos); err != nil {
				return &TransportError{Op: "pack", Partner: m.partner, Tag: m.tag, Err: err}
			}
		}
		m.nBytes = pos

	default:
		buf := asElems[T](m.buf)
		off := 0
		for i := range m.items {
			it := &m.items[i]
			src, idx, dst := it.Data, it.Indexer(), buf[off:off+it.Size]
			con.ForAll(0, it.Size, func(j int) { dst[j] = src[idx.At(j)] })
			off += it.Size
		}
	}
	packedBytes.WithLabelValues(m.backend.String(), "pack").Add(float64(m.nBytes))
	m.log.Debug("packed", zap.Int("items", len(m.items)), zap.Int("bytes", m.nBytes))
	return nil
}

// Unpack scatters the buffer back into every item.  A native message with a
// single item was received in place, so there is nothing to do.
func (m *Message[T]) Unpack(con exec.Context, c transport.Comm) error {
	m.checkContext(con, "unpack")
	m.requireAllocated("unpack")

	switch {
	case m.nativeSingle():
		return nil

	case m.native:
		pos := 0
		for i := range m.items {
			it := &m.items[i]
			if err := c.Unpack(m.buf, &pos, asBytes(it.Data), 1, it.Type); err != nil {
				return &TransportError{Op: "unpack", Partner: m.partner, Tag: m.tag, Err: err}
			}
		}

	default:
		buf := asElems[T](m.buf)
		off := 0
		for i := range m.items {
			it := &m.items[i]
			src, idx, dst := buf[off:off+it.Size], it.Indexer(), it.Data
			con.ForAll(0, it.Size, func(j int) { dst[idx.At(j)] = src[j] })
			off += it.Size
		}
	}
	packedBytes.WithLabelValues(m.backend.String(), "unpack").Add(float64(m.nBytes))
	m.log.Debug("unpacked", zap.Int("items", len(m.items)), zap.Int("bytes", m.nBytes))
	return nil
}

// wrap tags transport failures of op with the message's address.
func (m *Message[T]) wrap(op string, fn issueFunc) issueFunc {
	return func(buf []byte, count int, dt *transport.Datatype, peer, tag int, req *transport.Request) error {
		if err := fn(buf, count, dt, peer, tag, req); err != nil {
			return &TransportError{Op: op, Partner: peer, Tag: tag, Err: err}
		}
		return nil
	}
}

// StartSend starts sending the message and binds the operation to req.
// With the Raw and Typed backends the packed data must already be visible
// to the caller, through Synchronize or an event wait.  The Direct backend
// issues the send in order behind the pack work on con instead.
func (m *Message[T]) StartSend(con exec.Context, c transport.Comm, req *transport.Request) error {
	m.checkContext(con, "send")
	m.requireAllocated("send")
	op := m.wrap("send", c.Isend)

	var err error
	switch {
	case m.nativeSingle():
		it := &m.items[0]
		err = m.issuer.issue(con, op, asBytes(it.Data), 1, it.Type, m.partner, m.tag, req)
	case m.native:
		err = m.issuer.issue(con, op, m.buf, m.nBytes, transport.Packed, m.partner, m.tag, req)
	default:
		err = m.issuer.issue(con, op, m.buf, m.nBytes, transport.Byte, m.partner, m.tag, req)
	}
	if err != nil {
		return err
	}
	messagesStarted.WithLabelValues(m.backend.String(), "send").Inc()
	m.log.Debug("send started", zap.Int("bytes", m.nBytes))
	return nil
}

// StartRecv starts receiving the message and binds the operation to req.
// The buffer must stay allocated until req completes.
func (m *Message[T]) StartRecv(con exec.Context, c transport.Comm, req *transport.Request) error {
	m.checkContext(con, "recv")
	m.requireAllocated("recv")
	op := m.wrap("recv", c.Irecv)

	var err error
	switch {
	case m.nativeSingle():
		it := &m.items[0]
		err = m.issuer.issue(con, op, asBytes(it.Data), 1, it.Type, m.partner, m.tag, req)
	case m.native:
		err = m.issuer.issue(con, op, m.buf, m.maxNBytes, transport.Packed, m.partner, m.tag, req)
	default:
		err = m.issuer.issue(con, op, m.buf, m.nBytes, transport.Byte, m.partner, m.tag, req)
	}
	if err != nil {
		return err
	}
	messagesStarted.WithLabelValues(m.backend.String(), "recv").Inc()
	m.log.Debug("recv started", zap.Int("bytes", m.nBytes))
	return nil
}

// Destroy releases every item's index array and datatype and empties the
// message.  It may be called more than once.
func (m *Message[T]) Destroy() {
	for i := range m.items {
		m.items[i].release()
	}
	m.items = nil
	m.maxNBytes, m.nBytes, m.size = 0, 0, 0
}
