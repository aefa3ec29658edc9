package interceptors

import (
	"context"

	"github.com/Keksclan/rawrpipe/auth"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/policy"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errUnauthenticated = rpcerror.NewServerError(rpcerror.Unauthenticated, "unauthenticated")

// authError keeps deliberate statuses and hides everything else behind
// UNAUTHENTICATED.
func authError(err error) error {
	if _, ok := rpcerror.AsServerError(err); ok {
		return err
	}
	if _, ok := rpcerror.AsClientError(err); ok {
		return errUnauthenticated
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		return rpcerror.NewServerError(rpcerror.FromGRPC(st.Code()), st.Message())
	}
	return errUnauthenticated
}

// Auth returns a server middleware that calls fn before the rest of the
// chain and continues with the context fn returns. When r is non-nil,
// methods whose resolved policy does not set AuthRequired skip
// authentication; methods matching no group are always authenticated.
func Auth(fn auth.AuthFunc, r *policy.Resolver) pipeline.ServerMiddleware {
	return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
		if r != nil {
			if _, pol, ok := r.Resolve(call.Method.Path); ok && pol != nil && !pol.AuthRequired {
				return call.Next(ctx, call.Request, cc)
			}
		}
		authed, err := fn(ctx, call.Method.Path, cc.Metadata)
		if err != nil {
			return pipeline.Fail(authError(err))
		}
		if authed == nil {
			authed = ctx
		}
		return call.Next(authed, call.Request, cc)
	}
}
