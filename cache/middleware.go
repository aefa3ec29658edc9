package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
)

// KeyPrefix starts every key written by [Middleware].
const KeyPrefix = "rawrpipe:"

type bypassKey struct{}

// Bypass skips the cache for one call.
func Bypass() pipeline.CallOption {
	return pipeline.WithValue(bypassKey{}, true)
}

var errNotCacheable = errors.New("cache: response is not a proto message")

// Key returns the cache key of a unary request on path.
func Key(path string, req proto.Message) (string, error) {
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return KeyPrefix + path + ":" + hex.EncodeToString(sum[:]), nil
}

// Middleware returns a client middleware answering unary calls to
// NO_SIDE_EFFECTS methods from c. Requests and responses must be proto
// messages and the method must allocate responses through NewResponse.
// Everything else passes through.
//
// A cache hit never reaches the transport, so header and trailer hooks are
// not invoked for it.
func Middleware(c Cache, ttl time.Duration) pipeline.ClientMiddleware {
	return func(ctx context.Context, call pipeline.ClientCall, opts pipeline.CallOptions) pipeline.Producer {
		desc := call.Method
		msg, ok := call.Request.Message.(proto.Message)
		if c == nil || !ok || desc.Shape() != pipeline.Unary ||
			desc.Idempotency != pipeline.NoSideEffects || desc.NewResponse == nil {
			return call.Next(ctx, call.Request, opts)
		}
		if skip, _ := opts.Value(bypassKey{}).(bool); skip {
			return call.Next(ctx, call.Request, opts)
		}
		key, err := Key(desc.Path, msg)
		if err != nil {
			return call.Next(ctx, call.Request, opts)
		}

		return func(yield pipeline.Yield) (any, error) {
			var fresh any
			b, err := c.GetOrSet(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
				final, err := call.Next(ctx, call.Request, opts)(yield)
				if err != nil {
					return nil, err
				}
				fresh = final
				m, ok := final.(proto.Message)
				if !ok {
					return nil, errNotCacheable
				}
				return proto.Marshal(m)
			})
			switch {
			case fresh != nil:
				return fresh, nil
			case errors.Is(err, errNotCacheable):
				return call.Next(ctx, call.Request, opts)(yield)
			case rpcerror.IsAbort(err) && ctx.Err() == nil:
				// The loading caller went away; load for ourselves.
				return call.Next(ctx, call.Request, opts)(yield)
			case err != nil:
				return nil, err
			}

			resp, ok := desc.NewResponse().(proto.Message)
			if !ok {
				return call.Next(ctx, call.Request, opts)(yield)
			}
			if err := proto.Unmarshal(b, resp); err != nil {
				return call.Next(ctx, call.Request, opts)(yield)
			}
			return resp, nil
		}
	}
}
