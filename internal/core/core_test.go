package core

import (
	"context"
	"slices"
	"testing"

	"google.golang.org/grpc"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/server"
)

func tagger(tag string, log *[]string) pipeline.ServerMiddleware {
	return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
		*log = append(*log, tag)
		return call.Next(ctx, call.Request, cc)
	}
}

func run(t *testing.T, mw pipeline.ServerMiddleware, log *[]string) {
	t.Helper()
	desc := &pipeline.MethodDescriptor{Path: "/svc/M"}
	entry := pipeline.BindServer(desc, mw, func(context.Context, pipeline.Request, *pipeline.CallContext) pipeline.Producer {
		*log = append(*log, "handler")
		return pipeline.Value("ok")
	})
	if _, err := entry(t.Context(), pipeline.Request{Message: "req"}, pipeline.NewCallContext(nil, "", nil))(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMiddlewareOrderDeterminesExecution(t *testing.T) {
	var log []string
	var b MiddlewareBuilder
	b.Add(300, tagger("C", &log))
	b.Add(100, tagger("A", &log))
	b.Add(200, tagger("B", &log))
	b.Add(50, nil)

	if b.Len() != 3 {
		t.Fatalf("Len = %d", b.Len())
	}
	run(t, b.Build(), &log)

	if want := []string{"A", "B", "C", "handler"}; !slices.Equal(log, want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
}

func TestMiddlewareOrderStableForSameOrder(t *testing.T) {
	var log []string
	var b MiddlewareBuilder
	b.Add(100, tagger("first", &log))
	b.Add(100, tagger("second", &log))
	b.Add(100, tagger("third", &log))
	run(t, b.Build(), &log)

	if want := []string{"first", "second", "third", "handler"}; !slices.Equal(log, want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
}

func TestEmptyBuilder(t *testing.T) {
	var b MiddlewareBuilder
	if b.Build() != nil {
		t.Fatal("empty builder should build nil")
	}
}

func TestServiceRegistry(t *testing.T) {
	var r ServiceRegistry
	if err := r.Add(server.NewService("a.A")); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(server.NewService("a.A")); err == nil {
		t.Fatal("duplicate service accepted")
	}

	s := grpc.NewServer()
	r.RegisterAll(s)
	r.RegisterAll(s)
	if _, ok := s.GetServiceInfo()["a.A"]; !ok {
		t.Fatal("service not registered")
	}
	if err := r.Add(server.NewService("b.B")); err == nil {
		t.Fatal("service added after registration")
	}
	if got := r.Names(); !slices.Equal(got, []string{"a.A"}) {
		t.Fatalf("names = %v", got)
	}
}
