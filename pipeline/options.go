package pipeline

import (
	"maps"
	"sync"

	"github.com/Keksclan/rawrpipe/metadata"
)

// CallOptions is the per-call state passed down a client chain. It is a
// value: layers extend it with [CallOptions.With] and pass the copy on.
type CallOptions struct {
	// Metadata is sent as request headers. It is shared by every layer of
	// one call.
	Metadata *metadata.Metadata
	// OnHeader is invoked once with the response headers.
	OnHeader func(*metadata.Metadata)
	// OnTrailer is invoked once with the response trailers when the call
	// settles.
	OnTrailer func(*metadata.Metadata)

	ext map[any]any
}

// CallOption configures CallOptions.
type CallOption func(*CallOptions)

// NewCallOptions applies opts to an empty CallOptions.
func NewCallOptions(opts ...CallOption) CallOptions {
	o := CallOptions{Metadata: metadata.Empty()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Metadata == nil {
		o.Metadata = metadata.Empty()
	}
	return o
}

// WithMetadata sets the request metadata.
func WithMetadata(md *metadata.Metadata) CallOption {
	return func(o *CallOptions) { o.Metadata = md }
}

// WithHeaderHook sets the header callback.
func WithHeaderHook(fn func(*metadata.Metadata)) CallOption {
	return func(o *CallOptions) { o.OnHeader = fn }
}

// WithTrailerHook sets the trailer callback.
func WithTrailerHook(fn func(*metadata.Metadata)) CallOption {
	return func(o *CallOptions) { o.OnTrailer = fn }
}

// WithValue attaches an extension value. Middlewares build their per-call
// options on top of it.
func WithValue(key, val any) CallOption {
	return func(o *CallOptions) { *o = o.With(key, val) }
}

// With returns a copy of o carrying val under key. o is not modified.
func (o CallOptions) With(key, val any) CallOptions {
	next := make(map[any]any, len(o.ext)+1)
	maps.Copy(next, o.ext)
	next[key] = val
	o.ext = next
	return o
}

// Value returns the extension stored under key, or nil.
func (o CallOptions) Value(key any) any {
	return o.ext[key]
}

// Lookup returns the extension stored under key and whether it was present.
func (o CallOptions) Lookup(key any) (any, bool) {
	v, ok := o.ext[key]
	return v, ok
}

// CallContext is the per-call state passed down a server chain.
type CallContext struct {
	// Metadata holds the request headers.
	Metadata *metadata.Metadata
	// Header is sent before the first response message.
	Header *metadata.Metadata
	// Trailer is sent when the call settles.
	Trailer *metadata.Metadata
	// Peer is the remote address, empty when unknown.
	Peer string

	ext   map[any]any
	state *headerState
}

type headerState struct {
	mu   sync.Mutex
	sent bool
	send func(*metadata.Metadata) error
}

// NewCallContext creates a CallContext. send transmits the header metadata
// and is invoked at most once.
func NewCallContext(md *metadata.Metadata, peer string, send func(*metadata.Metadata) error) *CallContext {
	if md == nil {
		md = metadata.Empty()
	}
	return &CallContext{
		Metadata: md,
		Header:   metadata.Empty(),
		Trailer:  metadata.Empty(),
		Peer:     peer,
		state:    &headerState{send: send},
	}
}

// SendHeader transmits Header now instead of with the first response. Only
// the first call has an effect.
func (c *CallContext) SendHeader() error {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.sent {
		return nil
	}
	c.state.sent = true
	if c.state.send == nil {
		return nil
	}
	return c.state.send(c.Header)
}

// HeaderSent reports whether the header has been transmitted.
func (c *CallContext) HeaderSent() bool {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return c.state.sent
}

// With returns a copy of c carrying val under key. Metadata, header state and
// peer are shared with c.
func (c *CallContext) With(key, val any) *CallContext {
	next := *c
	next.ext = make(map[any]any, len(c.ext)+1)
	maps.Copy(next.ext, c.ext)
	next.ext[key] = val
	return &next
}

// Value returns the extension stored under key, or nil.
func (c *CallContext) Value(key any) any {
	return c.ext[key]
}
