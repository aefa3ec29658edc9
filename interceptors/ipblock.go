package interceptors

import (
	"context"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"github.com/Keksclan/rawrpipe/security"
)

var errBlocked = rpcerror.NewServerError(rpcerror.PermissionDenied, "blocked")

// IPBlock returns a server middleware that denies calls whose client address
// b does not allow.
func IPBlock(b *security.IPBlocker) pipeline.ServerMiddleware {
	return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
		if !b.Evaluate(cc.Peer, cc.Metadata) {
			return pipeline.Fail(errBlocked)
		}
		return call.Next(ctx, call.Request, cc)
	}
}
