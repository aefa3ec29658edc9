package policy

import "sync"

// Resolver maps method paths to the best matching group. Results are
// memoized per path. A nil Resolver matches nothing.
type Resolver struct {
	groups []*GroupBuilder
	memo   sync.Map // path -> resolution
}

type resolution struct {
	group  string
	policy *Policy
	ok     bool
}

// NewResolver creates a Resolver. Groups must not be modified afterwards.
func NewResolver(groups ...*GroupBuilder) *Resolver {
	return &Resolver{groups: groups}
}

// Resolve returns the group matching fullMethod and its policy.
//
// Exact rules beat prefix rules, which beat regex rules. Among rules of the
// same kind the longest match wins, and on a tie the group declared first.
// ok is false when nothing matches.
func (res *Resolver) Resolve(fullMethod string) (groupName string, pol *Policy, ok bool) {
	if res == nil {
		return "", nil, false
	}
	if v, hit := res.memo.Load(fullMethod); hit {
		r := v.(resolution)
		return r.group, r.policy, r.ok
	}

	var best resolution
	bestKind, bestLen := exact, -1
	for _, g := range res.groups {
		for i := range g.rules {
			r := &g.rules[i]
			n := r.match(fullMethod)
			if n < 0 || !beats(r.kind, n, bestKind, bestLen) {
				continue
			}
			bestKind, bestLen = r.kind, n
			best = resolution{group: g.name, policy: g.policy, ok: true}
		}
	}
	res.memo.Store(fullMethod, best)
	return best.group, best.policy, best.ok
}
