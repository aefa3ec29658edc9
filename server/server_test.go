package server_test

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"testing"

	"github.com/Keksclan/rawrpipe/client"
	"github.com/Keksclan/rawrpipe/metadata"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"github.com/Keksclan/rawrpipe/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const bufSize = 1024 * 1024

func newString() any { return new(wrapperspb.StringValue) }
func newInt() any    { return new(wrapperspb.Int32Value) }

func serve(t *testing.T, svc *server.Service, opts ...grpc.ServerOption) *client.Client {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(opts...)
	svc.Register(s)
	t.Cleanup(func() { s.Stop() })
	go func() { _ = s.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return client.New(conn)
}

func method(t *testing.T, svc *server.Service, name string) *pipeline.MethodDescriptor {
	t.Helper()
	d, ok := svc.Method(name)
	if !ok {
		t.Fatalf("method %s not registered", name)
	}
	return d
}

func echoService(opts ...server.Option) *server.Service {
	return server.NewService("test.Echo", opts...).
		Unary("Say", newString, func(_ context.Context, req any, cc *pipeline.CallContext) (any, error) {
			_ = cc.Header.Set("x-header", "h")
			_ = cc.Trailer.Set("x-trailer", "t")
			v := req.(*wrapperspb.StringValue).Value
			switch v {
			case "server-error":
				return nil, rpcerror.NewServerError(rpcerror.NotFound, "no such greeting")
			case "plain-error":
				return nil, errors.New("database password is hunter2")
			}
			suffix, _ := cc.Metadata.Get("x-suffix")
			return wrapperspb.String(v + suffix), nil
		}, server.WithResponse(newString), server.WithIdempotency(pipeline.NoSideEffects)).
		ClientStreaming("Upload", newString, func(_ context.Context, reqs pipeline.Source, _ *pipeline.CallContext) (any, error) {
			var parts []string
			for msg, err := range reqs {
				if err != nil {
					return nil, err
				}
				parts = append(parts, msg.(*wrapperspb.StringValue).Value)
			}
			return wrapperspb.String(strings.Join(parts, "+")), nil
		}, server.WithResponse(newString)).
		ServerStreaming("Count", newInt, func(_ context.Context, req any, cc *pipeline.CallContext, send pipeline.Yield) error {
			_ = cc.Header.Set("x-header", "stream")
			if err := cc.SendHeader(); err != nil {
				return err
			}
			for i := range req.(*wrapperspb.Int32Value).Value {
				if err := send(wrapperspb.Int32(i)); err != nil {
					return err
				}
			}
			return nil
		}, server.WithResponse(newInt)).
		BidiStreaming("Chat", newString, func(_ context.Context, reqs pipeline.Source, _ *pipeline.CallContext, send pipeline.Yield) error {
			for msg, err := range reqs {
				if err != nil {
					return err
				}
				if err := send(wrapperspb.String("echo:" + msg.(*wrapperspb.StringValue).Value)); err != nil {
					return err
				}
			}
			return nil
		}, server.WithResponse(newString))
}

func TestRegisterService(t *testing.T) {
	s := grpc.NewServer()
	echoService().Register(s)
	info, ok := s.GetServiceInfo()["test.Echo"]
	if !ok {
		t.Fatal("test.Echo service not registered")
	}
	var names []string
	for _, m := range info.Methods {
		names = append(names, m.Name)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"Chat", "Count", "Say", "Upload"}) {
		t.Fatalf("methods = %v", names)
	}
}

func TestUnaryHeadersAndTrailers(t *testing.T) {
	svc := echoService()
	c := serve(t, svc)

	md, _ := metadata.Pairs("x-suffix", "?")
	var header, trailer *metadata.Metadata
	resp, err := c.Unary(t.Context(), method(t, svc, "Say"), wrapperspb.String("hi"),
		pipeline.WithMetadata(md),
		pipeline.WithHeaderHook(func(m *metadata.Metadata) { header = m }),
		pipeline.WithTrailerHook(func(m *metadata.Metadata) { trailer = m }),
	)
	if err != nil {
		t.Fatalf("Unary: %v", err)
	}
	if got := resp.(*wrapperspb.StringValue).Value; got != "hi?" {
		t.Fatalf("response = %q", got)
	}
	if v, _ := header.Get("x-header"); v != "h" {
		t.Fatalf("header = %q", v)
	}
	if v, _ := trailer.Get("x-trailer"); v != "t" {
		t.Fatalf("trailer = %q", v)
	}
}

func TestAllShapes(t *testing.T) {
	svc := echoService()
	c := serve(t, svc)

	resp, err := c.ClientStreaming(t.Context(), method(t, svc, "Upload"),
		pipeline.SourceOf(wrapperspb.String("a"), wrapperspb.String("b")))
	if err != nil || resp.(*wrapperspb.StringValue).Value != "a+b" {
		t.Fatalf("Upload = %v, %v", resp, err)
	}

	var header *metadata.Metadata
	var counts []int32
	for item, err := range c.ServerStreaming(t.Context(), method(t, svc, "Count"), wrapperspb.Int32(3),
		pipeline.WithHeaderHook(func(m *metadata.Metadata) { header = m })) {
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		counts = append(counts, item.(*wrapperspb.Int32Value).Value)
	}
	if !slices.Equal(counts, []int32{0, 1, 2}) {
		t.Fatalf("Count items = %v", counts)
	}
	if v, _ := header.Get("x-header"); v != "stream" {
		t.Fatalf("explicit header = %q", v)
	}

	var echoes []string
	for item, err := range c.BidiStreaming(t.Context(), method(t, svc, "Chat"),
		pipeline.SourceOf(wrapperspb.String("x"), wrapperspb.String("y"))) {
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		echoes = append(echoes, item.(*wrapperspb.StringValue).Value)
	}
	if !slices.Equal(echoes, []string{"echo:x", "echo:y"}) {
		t.Fatalf("Chat items = %v", echoes)
	}
}

func TestServerErrorReachesPeer(t *testing.T) {
	svc := echoService()
	c := serve(t, svc)

	_, err := c.Unary(t.Context(), method(t, svc, "Say"), wrapperspb.String("server-error"))
	ce, ok := rpcerror.AsClientError(err)
	if !ok || ce.Code != rpcerror.NotFound || ce.Details != "no such greeting" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUnknownErrorIsHidden(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	svc := echoService(server.WithLogger(zap.New(core)))
	c := serve(t, svc)

	_, err := c.Unary(t.Context(), method(t, svc, "Say"), wrapperspb.String("plain-error"))
	ce, ok := rpcerror.AsClientError(err)
	if !ok || ce.Code != rpcerror.Unknown || ce.Details != "unknown server error" {
		t.Fatalf("unexpected error: %v", err)
	}
	if logs.FilterMessage("call failed with an unclassified error").Len() != 1 {
		t.Fatalf("expected the local failure to be logged, got %v", logs.All())
	}
	entry := logs.All()[0]
	if !strings.Contains(entry.ContextMap()["error"].(string), "hunter2") {
		t.Fatal("log entry should carry the local error detail")
	}
}

func TestServerStreamingFinalValueIsValidationError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	// A broken middleware turns the streaming response into a single value.
	broken := func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
		return func(yield pipeline.Yield) (any, error) {
			if _, err := call.Next(ctx, call.Request, cc)(yield); err != nil {
				return nil, err
			}
			return "not allowed", nil
		}
	}
	svc := echoService(server.WithLogger(zap.New(core)), server.WithMiddleware(broken))
	c := serve(t, svc)

	var items int
	var errs []error
	for _, err := range c.ServerStreaming(t.Context(), method(t, svc, "Count"), wrapperspb.Int32(2)) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items++
	}
	if items != 2 {
		t.Fatalf("delivered items = %d, want 2", items)
	}
	if len(errs) != 1 || rpcerror.CodeOf(errs[0]) != rpcerror.Unknown {
		t.Fatalf("errors = %v", errs)
	}
	if logs.FilterMessage("call violated its contract").Len() != 1 {
		t.Fatalf("expected a logged validation error, got %v", logs.All())
	}
}

func TestServerMiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) pipeline.ServerMiddleware {
		return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
			order = append(order, name)
			return call.Next(ctx, call.Request, cc)
		}
	}
	svc := echoService(server.WithMiddleware(tag("A"), tag("B")), server.WithMiddleware(tag("C")))
	c := serve(t, svc)

	if _, err := c.Unary(t.Context(), method(t, svc, "Say"), wrapperspb.String("x")); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(order, []string{"A", "B", "C"}) {
		t.Fatalf("order = %v", order)
	}
}

func TestGRPCUnaryInterceptorHonored(t *testing.T) {
	var seen string
	icpt := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return h(ctx, req)
	}
	svc := echoService()
	c := serve(t, svc, grpc.UnaryInterceptor(icpt))

	if _, err := c.Unary(t.Context(), method(t, svc, "Say"), wrapperspb.String("x")); err != nil {
		t.Fatal(err)
	}
	if seen != "/test.Echo/Say" {
		t.Fatalf("interceptor saw %q", seen)
	}
}

func TestPeerAndIdempotency(t *testing.T) {
	var peerAddr string
	svc := server.NewService("test.Peer").
		Unary("Who", newString, func(_ context.Context, _ any, cc *pipeline.CallContext) (any, error) {
			peerAddr = cc.Peer
			return wrapperspb.String("ok"), nil
		}, server.WithResponse(newString), server.WithIdempotency(pipeline.Idempotent))
	c := serve(t, svc)

	d := method(t, svc, "Who")
	if d.Idempotency != pipeline.Idempotent || d.Path != "/test.Peer/Who" {
		t.Fatalf("descriptor = %+v", d)
	}
	if _, err := c.Unary(t.Context(), d, wrapperspb.String("x")); err != nil {
		t.Fatal(err)
	}
	if peerAddr == "" {
		t.Fatal("peer address should be populated")
	}
}
