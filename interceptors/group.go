package interceptors

import (
	"context"

	"github.com/Keksclan/rawrpipe/contextx"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/policy"
)

// PolicyGroup returns a server middleware storing the name of the policy
// group the method resolves to in the context (see
// [contextx.GroupFromContext]).
func PolicyGroup(r *policy.Resolver) pipeline.ServerMiddleware {
	return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
		if name, _, ok := r.Resolve(call.Method.Path); ok {
			ctx = contextx.WithGroup(ctx, name)
		}
		return call.Next(ctx, call.Request, cc)
	}
}
