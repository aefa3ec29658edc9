package interceptors_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Keksclan/rawrpipe/auth"
	"github.com/Keksclan/rawrpipe/contextx"
	"github.com/Keksclan/rawrpipe/interceptors"
	"github.com/Keksclan/rawrpipe/metadata"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/policy"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeAuth accepts "Bearer valid-token" and injects an Actor.
func fakeAuth() auth.AuthFunc {
	return func(ctx context.Context, _ string, md *metadata.Metadata) (context.Context, error) {
		token, ok := auth.BearerToken(md)
		if !ok || token != "valid-token" {
			return ctx, errors.New("bad token")
		}
		return contextx.WithActor(ctx, contextx.Actor{Subject: "user-1"}), nil
	}
}

func mustNotRun(t *testing.T) pipeline.ServerNext {
	return func(context.Context, pipeline.Request, *pipeline.CallContext) pipeline.Producer {
		t.Fatal("handler should not be called")
		return nil
	}
}

func TestAuth_MissingCredentials(t *testing.T) {
	_, err := invoke(t.Context(), interceptors.Auth(fakeAuth(), nil), callContext(t, ""), mustNotRun(t))
	se, ok := rpcerror.AsServerError(err)
	if !ok || se.Code != rpcerror.Unauthenticated {
		t.Fatalf("expected UNAUTHENTICATED, got %v", err)
	}
}

func TestAuth_ValidCredentials(t *testing.T) {
	var actor contextx.Actor
	handler := func(ctx context.Context, _ pipeline.Request, _ *pipeline.CallContext) pipeline.Producer {
		a, ok := contextx.ActorFromContext(ctx)
		if !ok {
			t.Fatal("expected actor in context")
		}
		actor = a
		return pipeline.Value("ok")
	}

	resp, err := invoke(t.Context(), interceptors.Auth(fakeAuth(), nil),
		callContext(t, "", "authorization", "Bearer valid-token"), handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" || actor.Subject != "user-1" {
		t.Fatalf("resp=%v actor=%+v", resp, actor)
	}
}

func TestAuth_DeliberateStatusPassthrough(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want rpcerror.Code
	}{
		{"server error", rpcerror.NewServerError(rpcerror.PermissionDenied, "forbidden"), rpcerror.PermissionDenied},
		{"grpc status", status.Error(codes.PermissionDenied, "forbidden"), rpcerror.PermissionDenied},
		{"client error is hidden", rpcerror.NewClientError("/idp.Tokens/Check", rpcerror.Unavailable, "down"), rpcerror.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := func(ctx context.Context, _ string, _ *metadata.Metadata) (context.Context, error) {
				return ctx, tt.err
			}
			_, err := invoke(t.Context(), interceptors.Auth(fn, nil), callContext(t, ""), mustNotRun(t))
			se, ok := rpcerror.AsServerError(err)
			if !ok || se.Code != tt.want {
				t.Fatalf("expected server error %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAuth_PolicySkipsPublicMethods(t *testing.T) {
	resolver := policy.NewResolver(
		policy.Group("public").Prefix("/public.").Policy(policy.Policy{}),
		policy.Group("admin").Prefix("/admin.").Policy(policy.Policy{AuthRequired: true}),
	)
	mw := interceptors.Auth(fakeAuth(), resolver)

	run := func(path string) error {
		desc := &pipeline.MethodDescriptor{Path: path}
		_, err := pipeline.BindServer(desc, mw, okHandler)(t.Context(), pipeline.Request{Message: "req"}, callContext(t, ""))(nil)
		return err
	}

	if err := run("/public.Catalog/List"); err != nil {
		t.Fatalf("public method should not require auth: %v", err)
	}
	if err := run("/admin.Users/Delete"); rpcerror.CodeOf(err) != rpcerror.Unauthenticated {
		t.Fatalf("admin method should require auth, got %v", err)
	}
	if err := run("/unmatched.Svc/Call"); rpcerror.CodeOf(err) != rpcerror.Unauthenticated {
		t.Fatalf("unmatched method should require auth, got %v", err)
	}
}
