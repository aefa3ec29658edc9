// Package server exposes application handlers of all four call shapes as a
// gRPC service, running each call through a server middleware chain.
package server

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/Keksclan/rawrpipe/metadata"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpcmd "google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// UnaryHandler implements a single-request, single-response method.
type UnaryHandler func(ctx context.Context, req any, cc *pipeline.CallContext) (any, error)

// ClientStreamHandler implements a method receiving a request stream.
type ClientStreamHandler func(ctx context.Context, reqs pipeline.Source, cc *pipeline.CallContext) (any, error)

// ServerStreamHandler implements a method sending a response stream through
// send.
type ServerStreamHandler func(ctx context.Context, req any, cc *pipeline.CallContext, send pipeline.Yield) error

// BidiHandler implements a method with streams in both directions.
type BidiHandler func(ctx context.Context, reqs pipeline.Source, cc *pipeline.CallContext, send pipeline.Yield) error

// Service collects method handlers under one gRPC service name.
type Service struct {
	name    string
	cfg     config
	methods map[string]*pipeline.MethodDescriptor
	unary   []grpc.MethodDesc
	streams []grpc.StreamDesc
}

// NewService creates an empty service named name ("package.Service").
func NewService(name string, opts ...Option) *Service {
	cfg := config{logger: zap.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return &Service{
		name:    name,
		cfg:     cfg,
		methods: make(map[string]*pipeline.MethodDescriptor),
	}
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Methods returns the descriptors of every registered method, sorted by
// path.
func (s *Service) Methods() []*pipeline.MethodDescriptor {
	out := make([]*pipeline.MethodDescriptor, 0, len(s.methods))
	for _, d := range s.methods {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Method returns the descriptor of a registered method by bare name.
func (s *Service) Method(name string) (*pipeline.MethodDescriptor, bool) {
	d, ok := s.methods[name]
	return d, ok
}

func (s *Service) describe(name string, reqStream, respStream bool, newReq func() any, opts []MethodOption) *pipeline.MethodDescriptor {
	d := &pipeline.MethodDescriptor{
		Path:           "/" + s.name + "/" + name,
		RequestStream:  reqStream,
		ResponseStream: respStream,
		NewRequest:     newReq,
	}
	for _, o := range opts {
		o(d)
	}
	s.methods[name] = d
	return d
}

// Unary registers a unary method. newReq allocates the request message.
func (s *Service) Unary(name string, newReq func() any, h UnaryHandler, opts ...MethodOption) *Service {
	desc := s.describe(name, false, false, newReq, opts)
	entry := pipeline.BindServer(desc, s.cfg.middleware, func(ctx context.Context, req pipeline.Request, cc *pipeline.CallContext) pipeline.Producer {
		return func(pipeline.Yield) (any, error) { return h(ctx, req.Message, cc) }
	})
	s.unary = append(s.unary, grpc.MethodDesc{
		MethodName: name,
		Handler:    s.unaryHandler(desc, entry),
	})
	return s
}

// ClientStreaming registers a client-streaming method.
func (s *Service) ClientStreaming(name string, newReq func() any, h ClientStreamHandler, opts ...MethodOption) *Service {
	desc := s.describe(name, true, false, newReq, opts)
	entry := pipeline.BindServer(desc, s.cfg.middleware, func(ctx context.Context, req pipeline.Request, cc *pipeline.CallContext) pipeline.Producer {
		return func(pipeline.Yield) (any, error) { return h(ctx, req.Stream, cc) }
	})
	s.addStream(desc, entry)
	return s
}

// ServerStreaming registers a server-streaming method.
func (s *Service) ServerStreaming(name string, newReq func() any, h ServerStreamHandler, opts ...MethodOption) *Service {
	desc := s.describe(name, false, true, newReq, opts)
	entry := pipeline.BindServer(desc, s.cfg.middleware, func(ctx context.Context, req pipeline.Request, cc *pipeline.CallContext) pipeline.Producer {
		return func(yield pipeline.Yield) (any, error) { return nil, h(ctx, req.Message, cc, yield) }
	})
	s.addStream(desc, entry)
	return s
}

// BidiStreaming registers a bidirectional-streaming method.
func (s *Service) BidiStreaming(name string, newReq func() any, h BidiHandler, opts ...MethodOption) *Service {
	desc := s.describe(name, true, true, newReq, opts)
	entry := pipeline.BindServer(desc, s.cfg.middleware, func(ctx context.Context, req pipeline.Request, cc *pipeline.CallContext) pipeline.Producer {
		return func(yield pipeline.Yield) (any, error) { return nil, h(ctx, req.Stream, cc, yield) }
	})
	s.addStream(desc, entry)
	return s
}

// Handle registers a method implemented directly as a pipeline step. The
// shape is taken from desc; desc.Path must belong to this service.
func (s *Service) Handle(desc *pipeline.MethodDescriptor, impl pipeline.ServerNext) *Service {
	name := desc.Method()
	s.methods[name] = desc
	entry := pipeline.BindServer(desc, s.cfg.middleware, impl)
	if desc.Shape() == pipeline.Unary {
		s.unary = append(s.unary, grpc.MethodDesc{MethodName: name, Handler: s.unaryHandler(desc, entry)})
		return s
	}
	s.addStream(desc, entry)
	return s
}

// Descriptor returns the grpc.ServiceDesc for the registered methods.
func (s *Service) Descriptor() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: s.name,
		HandlerType: (*any)(nil),
		Methods:     append([]grpc.MethodDesc(nil), s.unary...),
		Streams:     append([]grpc.StreamDesc(nil), s.streams...),
		Metadata:    s.name,
	}
}

// Register registers the service on reg.
func (s *Service) Register(reg grpc.ServiceRegistrar) {
	reg.RegisterService(s.Descriptor(), s)
}

func (s *Service) addStream(desc *pipeline.MethodDescriptor, entry pipeline.ServerNext) {
	s.streams = append(s.streams, grpc.StreamDesc{
		StreamName:    desc.Method(),
		Handler:       s.streamHandler(desc, entry),
		ServerStreams: desc.ResponseStream,
		ClientStreams: desc.RequestStream,
	})
}

func (s *Service) unaryHandler(desc *pipeline.MethodDescriptor, entry pipeline.ServerNext) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := newRequest(desc)
		if err := dec(req); err != nil {
			return nil, err
		}
		run := func(ctx context.Context, r any) (any, error) {
			cc := s.callContext(ctx, func(h *metadata.Metadata) error {
				return grpc.SendHeader(ctx, h.MD())
			})
			final, err := entry(ctx, pipeline.Request{Message: r}, cc)(rejectItems(desc))
			if !cc.HeaderSent() {
				_ = grpc.SetHeader(ctx, cc.Header.MD())
			}
			_ = grpc.SetTrailer(ctx, cc.Trailer.MD())
			if err != nil {
				return nil, s.status(ctx, desc, err)
			}
			return final, nil
		}
		if interceptor == nil {
			return run(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: desc.Path,
		}
		return interceptor(ctx, req, info, run)
	}
}

func (s *Service) streamHandler(desc *pipeline.MethodDescriptor, entry pipeline.ServerNext) grpc.StreamHandler {
	return func(_ any, ss grpc.ServerStream) error {
		ctx := ss.Context()
		cc := s.callContext(ctx, func(h *metadata.Metadata) error {
			return ss.SendHeader(h.MD())
		})

		var req pipeline.Request
		if desc.RequestStream {
			req.Stream = receive(ctx, desc, ss)
		} else {
			msg := newRequest(desc)
			if err := ss.RecvMsg(msg); err != nil {
				return err
			}
			req.Message = msg
		}

		send := func(item any) error {
			if err := cc.SendHeader(); err != nil {
				return err
			}
			return ss.SendMsg(item)
		}
		final, err := entry(ctx, req, cc)(send)
		if err == nil && !desc.ResponseStream {
			err = send(final)
		}
		if !cc.HeaderSent() {
			_ = ss.SetHeader(cc.Header.MD())
		}
		ss.SetTrailer(cc.Trailer.MD())
		if err != nil {
			return s.status(ctx, desc, err)
		}
		return nil
	}
}

// status maps err to the status sent to the peer. Failures that were not
// deliberate statuses are logged here and hidden from the peer.
func (s *Service) status(ctx context.Context, desc *pipeline.MethodDescriptor, err error) error {
	st, known := rpcerror.ToStatus(err)
	if !known {
		fields := []zap.Field{
			zap.String("method", desc.Path),
			zap.Stringer("shape", desc.Shape()),
			zap.Error(err),
		}
		if rpcerror.IsValidation(err) {
			s.cfg.logger.Error("call violated its contract", fields...)
		} else {
			s.cfg.logger.Error("call failed with an unclassified error", fields...)
		}
	}
	return st.Err()
}

func (s *Service) callContext(ctx context.Context, send func(*metadata.Metadata) error) *pipeline.CallContext {
	in, _ := grpcmd.FromIncomingContext(ctx)
	md, err := metadata.FromMD(in)
	if err != nil {
		s.cfg.logger.Warn("dropping malformed request metadata", zap.Error(err))
		md = metadata.Empty()
	}
	var addr string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr = p.Addr.String()
	}
	return pipeline.NewCallContext(md, addr, send)
}

// receive exposes the inbound stream as a Source. It must be iterated at
// most once.
func receive(ctx context.Context, desc *pipeline.MethodDescriptor, ss grpc.ServerStream) pipeline.Source {
	return func(yield func(any, error) bool) {
		for {
			msg := newRequest(desc)
			err := ss.RecvMsg(msg)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					err = rpcerror.Abort(ctx)
				}
				yield(nil, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func rejectItems(desc *pipeline.MethodDescriptor) pipeline.Yield {
	return func(any) error {
		return rpcerror.Validationf("%s: intermediate item on a single-response call", desc.Path)
	}
}

func newRequest(desc *pipeline.MethodDescriptor) any {
	if desc.NewRequest == nil {
		return new(any)
	}
	return desc.NewRequest()
}
