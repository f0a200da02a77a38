package comm

import (
	"strings"

	"github.com/lanl/halo-exchange/exec"
	"github.com/lanl/halo-exchange/transport"
)

// A Backend selects how a Message reaches the transport.
type Backend int

const (
	Raw    Backend = iota // Packed bytes, sent once the caller has made the pack visible
	Typed                 // Native datatypes when paired with a native context, else as Raw
	Direct                // Packed bytes, sent in stream order from the execution context
)

var backendNames = map[Backend]string{
	Raw:    "raw",
	Typed:  "typed",
	Direct: "direct",
}

func (b Backend) String() string {
	str, ok := backendNames[b]
	if !ok {
		return "unknown Backend"
	}
	return str
}

// ParseBackend maps a backend name back to its Backend.
func ParseBackend(name string) (Backend, bool) {
	name = strings.ToLower(name)
	for b, n := range backendNames {
		if n == name {
			return b, true
		}
	}
	return Raw, false
}

// negotiate checks that b can serve messages driven by contexts of kind.
func negotiate(b Backend, kind exec.Kind) error {
	if _, ok := backendNames[b]; !ok {
		return &ConfigError{Backend: b, Kind: kind, Reason: "no such backend"}
	}
	if _, ok := exec.ParseKind(kind.String()); !ok {
		return &ConfigError{Backend: b, Kind: kind, Reason: "no such execution context"}
	}
	if kind == exec.KindNativeType && b != Typed {
		return &ConfigError{Backend: b, Kind: kind, Reason: "backend cannot express native datatypes"}
	}
	return nil
}

// An issueFunc starts one transport operation.
type issueFunc func(buf []byte, count int, dt *transport.Datatype, peer, tag int, req *transport.Request) error

// issuer starts transport operations on behalf of a backend.
type issuer interface {
	issue(con exec.Context, op issueFunc, buf []byte, count int, dt *transport.Datatype, peer, tag int, req *transport.Request) error
}

// immediate issues the operation on the calling goroutine.
type immediate struct{}

func (immediate) issue(_ exec.Context, op issueFunc, buf []byte, count int, dt *transport.Datatype, peer, tag int, req *transport.Request) error {
	return op(buf, count, dt, peer, tag, req)
}

// streamOrdered enqueues the operation on the execution context, behind the
// pack work already submitted to it.  The request is bound at once and
// completes when the operation issued later does.
type streamOrdered struct{}

func (streamOrdered) issue(con exec.Context, op issueFunc, buf []byte, count int, dt *transport.Datatype, peer, tag int, req *transport.Request) error {
	d := transport.NewDeferred()
	req.Start(d)
	con.ForAll(0, 1, func(int) {
		var inner transport.Request
		if err := op(buf, count, dt, peer, tag, &inner); err != nil {
			d.Resolve(nil, err)
			return
		}
		d.Resolve(&inner, nil)
	})
	return nil
}

func issuerFor(b Backend) issuer {
	if b == Direct {
		return streamOrdered{}
	}
	return immediate{}
}
