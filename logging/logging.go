// Package logging provides zap client and server middlewares that write one
// entry per finished call.
package logging

import (
	"context"
	"time"

	"github.com/Keksclan/rawrpipe/contextx"
	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelFunc picks the level of the entry for a finished call.
type LevelFunc func(code rpcerror.Code) zapcore.Level

// DefaultLevel logs successful and caller-side failures at Info, transient
// server trouble at Warn and everything else at Error.
func DefaultLevel(code rpcerror.Code) zapcore.Level {
	switch code {
	case rpcerror.OK, rpcerror.Canceled, rpcerror.InvalidArgument, rpcerror.NotFound,
		rpcerror.AlreadyExists, rpcerror.Unauthenticated:
		return zapcore.InfoLevel
	case rpcerror.DeadlineExceeded, rpcerror.PermissionDenied, rpcerror.ResourceExhausted,
		rpcerror.FailedPrecondition, rpcerror.Aborted, rpcerror.OutOfRange, rpcerror.Unavailable:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

type config struct {
	level LevelFunc
	clock clock.Clock
}

// Option configures the middlewares.
type Option func(*config)

// WithLevel replaces DefaultLevel.
func WithLevel(fn LevelFunc) Option {
	return func(c *config) { c.level = fn }
}

// WithClock replaces the wall clock used to time calls.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

func newConfig(opts []Option) config {
	cfg := config{level: DefaultLevel, clock: clock.New()}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// ClientMiddleware returns a client middleware logging every call on
// logger. A nil logger disables logging.
func ClientMiddleware(logger *zap.Logger, opts ...Option) pipeline.ClientMiddleware {
	if logger == nil {
		return pipeline.PassClient
	}
	cfg := newConfig(opts)
	logger = logger.With(zap.String("span.kind", "client"))

	return func(ctx context.Context, call pipeline.ClientCall, o pipeline.CallOptions) pipeline.Producer {
		return func(yield pipeline.Yield) (any, error) {
			start := cfg.clock.Now()
			items := 0
			final, err := call.Next(ctx, call.Request, o)(func(item any) error {
				items++
				return yield(item)
			})
			cfg.write(logger, "finished client call", call.Method, err, items, cfg.clock.Since(start))
			return final, err
		}
	}
}

// ServerMiddleware returns a server middleware logging every call on
// logger, with the peer and the request id when one is set. A nil logger
// disables logging.
func ServerMiddleware(logger *zap.Logger, opts ...Option) pipeline.ServerMiddleware {
	if logger == nil {
		return pipeline.PassServer
	}
	cfg := newConfig(opts)
	logger = logger.With(zap.String("span.kind", "server"))

	return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
		return func(yield pipeline.Yield) (any, error) {
			start := cfg.clock.Now()
			items := 0
			final, err := call.Next(ctx, call.Request, cc)(func(item any) error {
				items++
				return yield(item)
			})

			l := logger
			if cc.Peer != "" {
				l = l.With(zap.String("peer", cc.Peer))
			}
			if id := contextx.RequestIDFromContext(ctx); id != "" {
				l = l.With(zap.String("request_id", id))
			}
			cfg.write(l, "finished server call", call.Method, err, items, cfg.clock.Since(start))
			return final, err
		}
	}
}

func (c *config) write(l *zap.Logger, msg string, desc *pipeline.MethodDescriptor, err error, items int, d time.Duration) {
	code := rpcerror.CodeOf(err)
	ce := l.Check(c.level(code), msg)
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("method", desc.Path),
		zap.Stringer("shape", desc.Shape()),
		zap.Stringer("code", code),
		zap.Int("items", items),
		zap.Duration("duration", d),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}
