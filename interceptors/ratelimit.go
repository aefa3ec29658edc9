package interceptors

import (
	"context"
	"sync"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/policy"
	"github.com/Keksclan/rawrpipe/ratelimit"
	"github.com/Keksclan/rawrpipe/rpcerror"
)

var errRateLimited = rpcerror.NewServerError(rpcerror.ResourceExhausted, "rate limit exceeded")

// rateLimitState holds the global limiter, an optional policy resolver and
// the per-group limiters created lazily from resolved policies.
type rateLimitState struct {
	global   *ratelimit.Limiter
	resolver *policy.Resolver

	mu     sync.Mutex
	groups map[string]*ratelimit.Limiter
}

// limiterFor returns the limiter of the group path resolves to when that
// group has a RateLimit rule, the global limiter otherwise. It returns nil
// when neither applies.
func (s *rateLimitState) limiterFor(path string) *ratelimit.Limiter {
	if s.resolver != nil {
		if name, pol, ok := s.resolver.Resolve(path); ok && pol != nil && pol.RateLimit != nil {
			return s.groupLimiter(name, pol.RateLimit)
		}
	}
	return s.global
}

func (s *rateLimitState) groupLimiter(name string, rl *policy.RateLimitRule) *ratelimit.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.groups[name]; ok {
		return l
	}
	l := ratelimit.FromRule(rl.Rate, rl.Window)
	s.groups[name] = l
	return l
}

// RateLimit returns a server middleware rejecting calls once the applicable
// token bucket is empty. A method matching a policy group with a RateLimit
// rule uses that group's limiter; every other method uses l. Either argument
// may be nil.
func RateLimit(l *ratelimit.Limiter, r *policy.Resolver) pipeline.ServerMiddleware {
	st := &rateLimitState{global: l, resolver: r, groups: make(map[string]*ratelimit.Limiter)}
	return func(ctx context.Context, call pipeline.ServerCall, cc *pipeline.CallContext) pipeline.Producer {
		if lim := st.limiterFor(call.Method.Path); lim != nil && !lim.Allow() {
			return pipeline.Fail(errRateLimited)
		}
		return call.Next(ctx, call.Request, cc)
	}
}
