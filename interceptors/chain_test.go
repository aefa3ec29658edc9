package interceptors_test

import (
	"context"
	"slices"
	"testing"

	"github.com/Keksclan/rawrpipe/interceptors"
	"github.com/Keksclan/rawrpipe/pipeline"
)

func serverTag(tag string, log *[]string) pipeline.ServerMiddleware {
	return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
		next := call.Next(ctx, call.Request, cc)
		return func(yield pipeline.Yield) (any, error) {
			*log = append(*log, tag+":before")
			final, err := next(yield)
			*log = append(*log, tag+":after")
			return final, err
		}
	}
}

func clientTag(tag string, log *[]string) pipeline.ClientMiddleware {
	return func(ctx context.Context, call pipeline.ClientCall, opts pipeline.CallOptions) pipeline.Producer {
		next := call.Next(ctx, call.Request, opts)
		return func(yield pipeline.Yield) (any, error) {
			*log = append(*log, tag+":before")
			final, err := next(yield)
			*log = append(*log, tag+":after")
			return final, err
		}
	}
}

func TestChainServer_Order(t *testing.T) {
	var log []string
	chained := interceptors.ChainServer([]pipeline.ServerMiddleware{
		serverTag("A", &log),
		serverTag("B", &log),
		serverTag("C", &log),
	})

	handler := func(context.Context, pipeline.Request, *pipeline.CallContext) pipeline.Producer {
		return func(pipeline.Yield) (any, error) {
			log = append(log, "handler")
			return "ok", nil
		}
	}

	resp, err := invoke(t.Context(), chained, callContext(t, ""), handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected response: %v", resp)
	}

	expected := []string{"A:before", "B:before", "C:before", "handler", "C:after", "B:after", "A:after"}
	if !slices.Equal(log, expected) {
		t.Fatalf("log mismatch: got %v, want %v", log, expected)
	}
}

func TestChainServer_EmptyAndSingle(t *testing.T) {
	if interceptors.ChainServer(nil) != nil {
		t.Fatal("ChainServer(nil) should return nil")
	}

	var log []string
	chained := interceptors.ChainServer([]pipeline.ServerMiddleware{serverTag("only", &log)})
	if _, err := invoke(t.Context(), chained, callContext(t, ""), okHandler); err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 {
		t.Fatalf("single middleware was not called: %v", log)
	}
}

func TestChainClient_Order(t *testing.T) {
	var log []string
	chained := interceptors.ChainClient([]pipeline.ClientMiddleware{
		clientTag("A", &log),
		clientTag("B", &log),
	})

	terminal := func(context.Context, pipeline.Request, pipeline.CallOptions) pipeline.Producer {
		return func(pipeline.Yield) (any, error) {
			log = append(log, "transport")
			return "ok", nil
		}
	}
	entry := pipeline.BindClient(unaryMethod, chained, terminal)
	if _, err := entry(t.Context(), pipeline.Request{Message: "req"}, pipeline.NewCallOptions())(nil); err != nil {
		t.Fatal(err)
	}

	expected := []string{"A:before", "B:before", "transport", "B:after", "A:after"}
	if !slices.Equal(log, expected) {
		t.Fatalf("log mismatch: got %v, want %v", log, expected)
	}
	if interceptors.ChainClient(nil) != nil {
		t.Fatal("ChainClient(nil) should return nil")
	}
}
