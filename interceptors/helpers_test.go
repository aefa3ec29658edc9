package interceptors_test

import (
	"context"
	"testing"

	"github.com/Keksclan/rawrpipe/metadata"
	"github.com/Keksclan/rawrpipe/pipeline"
)

var (
	unaryMethod  = &pipeline.MethodDescriptor{Path: "/svc/Method"}
	streamMethod = &pipeline.MethodDescriptor{Path: "/svc/Watch", ResponseStream: true}
)

// okHandler is a trivial handler that always succeeds.
func okHandler(context.Context, pipeline.Request, *pipeline.CallContext) pipeline.Producer {
	return pipeline.Value("ok")
}

func callContext(t *testing.T, peer string, kv ...string) *pipeline.CallContext {
	t.Helper()
	md, err := metadata.Pairs(kv...)
	if err != nil {
		t.Fatal(err)
	}
	return pipeline.NewCallContext(md, peer, nil)
}

// invoke runs a unary call on /svc/Method through mw.
func invoke(ctx context.Context, mw pipeline.ServerMiddleware, cc *pipeline.CallContext, h pipeline.ServerNext) (any, error) {
	return invokeOn(ctx, unaryMethod, mw, cc, h)
}

func invokeOn(ctx context.Context, desc *pipeline.MethodDescriptor, mw pipeline.ServerMiddleware, cc *pipeline.CallContext, h pipeline.ServerNext) (any, error) {
	return pipeline.BindServer(desc, mw, h)(ctx, pipeline.Request{Message: "req"}, cc)(nil)
}
