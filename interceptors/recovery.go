package interceptors

import (
	"context"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"go.uber.org/zap"
)

var errInternal = rpcerror.NewServerError(rpcerror.Internal, "internal server error")

// Recovery returns a server middleware that turns a panic in any inner layer
// or the handler into an INTERNAL failure instead of crashing the process.
// The panic value and stack are logged on logger, which may be nil.
func Recovery(logger *zap.Logger) pipeline.ServerMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	report := func(method string, r any) {
		logger.Error("recovered from panic",
			zap.String("method", method),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
	}

	return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) (p pipeline.Producer) {
		defer func() {
			if r := recover(); r != nil {
				report(call.Method.Path, r)
				p = pipeline.Fail(errInternal)
			}
		}()

		next := call.Next(ctx, call.Request, cc)
		return func(yield pipeline.Yield) (final any, err error) {
			defer func() {
				if r := recover(); r != nil {
					report(call.Method.Path, r)
					final, err = nil, errInternal
				}
			}()
			return next(yield)
		}
	}
}
