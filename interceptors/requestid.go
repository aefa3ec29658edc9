package interceptors

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/Keksclan/rawrpipe/contextx"
	"github.com/Keksclan/rawrpipe/pipeline"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "x-request-id"

// maxRequestIDLen bounds ids accepted from the peer.
const maxRequestIDLen = 128

func newRequestID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

// RequestID returns a server middleware that makes sure every call carries a
// request id in its context. An id sent by the peer in x-request-id is kept,
// otherwise a random one is generated. The id is echoed in the response
// header.
func RequestID() pipeline.ServerMiddleware {
	return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
		id := contextx.RequestIDFromContext(ctx)
		if id == "" {
			if v, ok := cc.Metadata.Get(RequestIDHeader); ok && v != "" && len(v) <= maxRequestIDLen {
				id = v
			} else {
				id = newRequestID()
			}
			ctx = contextx.WithRequestID(ctx, id)
		}
		if err := cc.Header.Set(RequestIDHeader, id); err != nil {
			return pipeline.Fail(err)
		}
		return call.Next(ctx, call.Request, cc)
	}
}
