package transport

import (
	"fmt"

	"github.com/lanl/halo-exchange/internal/contract"
)

// A block is a contiguous run of bytes within one element of a datatype.
type block struct {
	off, len int
}

// A Datatype describes the memory layout of one element as an ordered list
// of byte blocks.  Elements of a count repeat every Extent bytes.
type Datatype struct {
	name       string
	blocks     []block // Type-map order, adjacent runs coalesced
	size       int     // Sum of block lengths
	lb, ub     int     // Lower and upper bound in bytes
	predefined bool
	freed      bool
}

func basic(name string, width int) *Datatype {
	return &Datatype{
		name:       name,
		blocks:     []block{{0, width}},
		size:       width,
		ub:         width,
		predefined: true,
	}
}

// Predefined datatypes.  Packed describes the output of Pack and is
// interchangeable with Byte for sending.
var (
	Byte    = basic("byte", 1)
	Packed  = basic("packed", 1)
	Int32   = basic("int32", 4)
	Uint32  = basic("uint32", 4)
	Float32 = basic("float32", 4)
	Int64   = basic("int64", 8)
	Uint64  = basic("uint64", 8)
	Float64 = basic("float64", 8)
)

func (dt *Datatype) String() string {
	if dt == nil {
		return "<nil datatype>"
	}
	return dt.name
}

// Size returns the number of data bytes in one element.
func (dt *Datatype) Size() int {
	dt.check()
	return dt.size
}

// Extent returns the span in bytes between successive elements.
func (dt *Datatype) Extent() int {
	dt.check()
	return dt.ub - dt.lb
}

// PackSize returns the bytes needed to pack count elements.
func (dt *Datatype) PackSize(count int) int {
	dt.check()
	return count * dt.size
}

// Contiguous reports whether one element is a single run of bytes with no
// gaps.
func (dt *Datatype) Contiguous() bool {
	dt.check()
	return len(dt.blocks) <= 1 && dt.size == dt.ub-dt.lb
}

// Free releases a derived datatype.  Freeing a predefined type does
// nothing.  Using a freed datatype violates its contract.
func (dt *Datatype) Free() {
	dt.check()
	if !dt.predefined {
		dt.freed = true
		dt.blocks = nil
	}
}

// Freed reports whether Free has been called on a derived datatype.
func (dt *Datatype) Freed() bool {
	return dt != nil && dt.freed
}

func (dt *Datatype) check() {
	contract.Require(dt != nil, "transport: nil datatype")
	contract.Require(!dt.freed, "transport: use of freed datatype %s", dt.name)
}

// builder accumulates the blocks of a derived datatype.
type builder struct {
	blocks []block
	size   int
}

// add appends n consecutive elements of old starting at byte offset off.
func (b *builder) add(old *Datatype, off, n int) {
	if n <= 0 || len(old.blocks) == 0 {
		return
	}
	if old.Contiguous() {
		b.push(block{off + old.blocks[0].off, n * old.size})
		return
	}
	ext := old.ub - old.lb
	for i := 0; i < n; i++ {
		for _, blk := range old.blocks {
			b.push(block{off + i*ext + blk.off, blk.len})
		}
	}
}

func (b *builder) push(blk block) {
	if blk.len == 0 {
		return
	}
	b.size += blk.len
	if k := len(b.blocks) - 1; k >= 0 && b.blocks[k].off+b.blocks[k].len == blk.off {
		b.blocks[k].len += blk.len
		return
	}
	b.blocks = append(b.blocks, blk)
}

func (b *builder) build(name string, lb, ub int) *Datatype {
	return &Datatype{name: name, blocks: b.blocks, size: b.size, lb: lb, ub: ub}
}

// NewContiguous returns a datatype of count consecutive elements of old.
func NewContiguous(count int, old *Datatype) *Datatype {
	old.check()
	contract.Require(count >= 0, "transport: negative count %d", count)
	var b builder
	b.add(old, 0, count)
	ext := old.ub - old.lb
	return b.build(fmt.Sprintf("contiguous(%d,%s)", count, old), old.lb, old.lb+count*ext)
}

// NewVector returns a datatype of count blocks of blockLen elements of old,
// with block starts stride elements apart.
func NewVector(count, blockLen, stride int, old *Datatype) *Datatype {
	old.check()
	contract.Require(count >= 0 && blockLen >= 0, "transport: negative vector shape (%d, %d)", count, blockLen)
	contract.Require(stride >= 0, "transport: negative vector stride %d", stride)
	ext := old.ub - old.lb
	var b builder
	for i := 0; i < count; i++ {
		b.add(old, i*stride*ext, blockLen)
	}
	ub := old.lb
	if count > 0 {
		ub = old.lb + ((count-1)*stride+blockLen)*ext
	}
	return b.build(fmt.Sprintf("vector(%d,%d,%d,%s)", count, blockLen, stride, old), old.lb, ub)
}

// NewIndexed returns a datatype of blocks of old elements, block i holding
// blockLens[i] elements starting displs[i] elements from the origin.
func NewIndexed(blockLens, displs []int, old *Datatype) *Datatype {
	old.check()
	contract.Require(len(blockLens) == len(displs),
		"transport: %d block lengths for %d displacements", len(blockLens), len(displs))
	ext := old.ub - old.lb
	var b builder
	lb, ub := 0, 0
	first := true
	for i, n := range blockLens {
		contract.Require(n >= 0 && displs[i] >= 0, "transport: bad indexed block %d (%d at %d)", i, n, displs[i])
		b.add(old, displs[i]*ext, n)
		if n == 0 {
			continue
		}
		lo, hi := displs[i]*ext+old.lb, (displs[i]+n)*ext+old.lb
		if first || lo < lb {
			lb = lo
		}
		if first || hi > ub {
			ub = hi
		}
		first = false
	}
	return b.build(fmt.Sprintf("indexed(%d,%s)", len(blockLens), old), lb, ub)
}

// NewSubarray returns a datatype selecting the box of subSizes elements at
// starts within a C-order array of sizes elements of old.  The extent is
// the whole array.
func NewSubarray(sizes, subSizes, starts []int, old *Datatype) *Datatype {
	old.check()
	nd := len(sizes)
	contract.Require(nd > 0 && len(subSizes) == nd && len(starts) == nd,
		"transport: subarray dimensions %d/%d/%d", len(sizes), len(subSizes), len(starts))
	total := 1
	for d := 0; d < nd; d++ {
		contract.Require(subSizes[d] >= 0 && starts[d] >= 0 && starts[d]+subSizes[d] <= sizes[d],
			"transport: subarray dimension %d: %d+%d exceeds %d", d, starts[d], subSizes[d], sizes[d])
		total *= sizes[d]
	}

	// strides[d] is the element distance between neighbours in dimension d.
	strides := make([]int, nd)
	strides[nd-1] = 1
	for d := nd - 2; d >= 0; d-- {
		strides[d] = strides[d+1] * sizes[d+1]
	}

	ext := old.ub - old.lb
	var b builder
	empty := false
	for d := 0; d < nd; d++ {
		empty = empty || subSizes[d] == 0
	}
	if !empty {
		// Walk every row of the last dimension in C order.
		idx := make([]int, nd-1)
		for {
			off := starts[nd-1]
			for d := 0; d < nd-1; d++ {
				off += (starts[d] + idx[d]) * strides[d]
			}
			b.add(old, off*ext, subSizes[nd-1])

			d := nd - 2
			for ; d >= 0; d-- {
				if idx[d]++; idx[d] < subSizes[d] {
					break
				}
				idx[d] = 0
			}
			if d < 0 {
				break
			}
		}
	}
	return b.build(fmt.Sprintf("subarray(%v,%v,%v,%s)", sizes, subSizes, starts, old), old.lb, old.lb+total*ext)
}

// span returns the bytes of a buffer that count elements of dt touch.
func (dt *Datatype) span(count int) int {
	if count <= 0 || len(dt.blocks) == 0 {
		return 0
	}
	hi := 0
	for _, blk := range dt.blocks {
		if blk.off+blk.len > hi {
			hi = blk.off + blk.len
		}
	}
	return (count-1)*(dt.ub-dt.lb) + hi
}

// Pack copies count elements of dt laid out in in to out starting at *pos
// and advances *pos past them.
func Pack(in []byte, count int, dt *Datatype, out []byte, pos *int) error {
	dt.check()
	contract.Require(count >= 0, "transport: negative count %d", count)
	contract.Require(dt.span(count) <= len(in),
		"transport: %d elements of %s overrun a %d-byte buffer", count, dt, len(in))
	need := count * dt.size
	if *pos < 0 || *pos+need > len(out) {
		return fmt.Errorf("%w: packing %d bytes at offset %d into %d", ErrTruncate, need, *pos, len(out))
	}
	p := *pos
	ext := dt.ub - dt.lb
	for i := 0; i < count; i++ {
		base := i * ext
		for _, blk := range dt.blocks {
			p += copy(out[p:p+blk.len], in[base+blk.off:base+blk.off+blk.len])
		}
	}
	*pos = p
	return nil
}

// Unpack copies count elements of dt from in starting at *pos into their
// layout in out and advances *pos past them.
func Unpack(in []byte, pos *int, out []byte, count int, dt *Datatype) error {
	dt.check()
	contract.Require(count >= 0, "transport: negative count %d", count)
	contract.Require(dt.span(count) <= len(out),
		"transport: %d elements of %s overrun a %d-byte buffer", count, dt, len(out))
	need := count * dt.size
	if *pos < 0 || *pos+need > len(in) {
		return fmt.Errorf("%w: unpacking %d bytes at offset %d from %d", ErrTruncate, need, *pos, len(in))
	}
	p := *pos
	ext := dt.ub - dt.lb
	for i := 0; i < count; i++ {
		base := i * ext
		for _, blk := range dt.blocks {
			p += copy(out[base+blk.off:base+blk.off+blk.len], in[p:p+blk.len])
		}
	}
	*pos = p
	return nil
}

// Elements converts a received byte count into whole elements of dt.  A
// count that ends mid-element is truncation.
func Elements(nbytes int, dt *Datatype) (int, error) {
	dt.check()
	if dt.size == 0 {
		return 0, nil
	}
	if nbytes%dt.size != 0 {
		return 0, fmt.Errorf("%w: %d bytes is not a whole number of %s", ErrTruncate, nbytes, dt)
	}
	return nbytes / dt.size, nil
}
