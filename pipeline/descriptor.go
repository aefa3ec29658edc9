// Package pipeline defines the shape-agnostic middleware contract shared by
// the client and server adapters: method descriptors, request and response
// producers, per-call options and the composition rules for middlewares.
package pipeline

import (
	"strings"
)

// Shape is one of the four RPC call shapes.
type Shape int

const (
	Unary Shape = iota
	ClientStreaming
	ServerStreaming
	BidiStreaming
)

// ShapeOf returns the shape for the given streaming flags.
func ShapeOf(requestStream, responseStream bool) Shape {
	switch {
	case requestStream && responseStream:
		return BidiStreaming
	case requestStream:
		return ClientStreaming
	case responseStream:
		return ServerStreaming
	default:
		return Unary
	}
}

// RequestStream reports whether the caller sends a sequence of messages.
func (s Shape) RequestStream() bool { return s == ClientStreaming || s == BidiStreaming }

// ResponseStream reports whether the callee sends a sequence of messages.
func (s Shape) ResponseStream() bool { return s == ServerStreaming || s == BidiStreaming }

func (s Shape) String() string {
	switch s {
	case Unary:
		return "unary"
	case ClientStreaming:
		return "client_stream"
	case ServerStreaming:
		return "server_stream"
	case BidiStreaming:
		return "bidi_stream"
	default:
		return "unknown"
	}
}

// Idempotency classifies whether repeating a call is safe.
type Idempotency int

const (
	IdempotencyUnknown Idempotency = iota
	NoSideEffects
	Idempotent
)

func (i Idempotency) String() string {
	switch i {
	case NoSideEffects:
		return "NO_SIDE_EFFECTS"
	case Idempotent:
		return "IDEMPOTENT"
	default:
		return "IDEMPOTENCY_UNKNOWN"
	}
}

// MethodDescriptor describes one RPC method. Descriptors are created once
// per method and never mutated.
type MethodDescriptor struct {
	// Path is the full method path, "/package.Service/Method".
	Path           string
	RequestStream  bool
	ResponseStream bool
	Idempotency    Idempotency

	// NewRequest and NewResponse allocate empty messages for the codec.
	NewRequest  func() any
	NewResponse func() any
}

// Shape returns the call shape of the method.
func (d *MethodDescriptor) Shape() Shape {
	return ShapeOf(d.RequestStream, d.ResponseStream)
}

// Service returns the "package.Service" part of the path.
func (d *MethodDescriptor) Service() string {
	svc, _ := splitPath(d.Path)
	return svc
}

// Method returns the bare method name.
func (d *MethodDescriptor) Method() string {
	_, m := splitPath(d.Path)
	return m
}

func splitPath(path string) (service, method string) {
	path = strings.TrimPrefix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i], path[i+1:]
	}
	return "", path
}
