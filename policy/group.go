// Package policy groups method paths ("/package.Service/Method") and attaches
// per-group settings that server and client middlewares consult.
package policy

import (
	"regexp"
	"time"
)

// RateLimitRule allows Rate calls per Window for every method of a group.
// The budget is shared by the group.
type RateLimitRule struct {
	Rate   int
	Window time.Duration
}

// RetryRule overrides the client retry budget.
type RetryRule struct {
	// MaxAttempts is the number of retries after the first failure.
	MaxAttempts int
}

// Policy is the configuration of a method group. Server middlewares read
// RateLimit and AuthRequired; client middlewares read Timeout and Retry.
type Policy struct {
	RateLimit    *RateLimitRule
	Timeout      time.Duration
	AuthRequired bool
	Retry        *RetryRule
}

// precedence orders rule kinds; lower wins.
type precedence int

const (
	exact precedence = iota
	prefix
	pattern
)

type rule struct {
	kind precedence
	text string
	re   *regexp.Regexp
}

// GroupBuilder declares a named method group.
type GroupBuilder struct {
	name   string
	rules  []rule
	policy *Policy
}

// Group starts a group called name.
func Group(name string) *GroupBuilder {
	return &GroupBuilder{name: name}
}

// Name returns the group name.
func (g *GroupBuilder) Name() string { return g.name }

// Exact matches one method path.
func (g *GroupBuilder) Exact(path string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: exact, text: path})
	return g
}

// Prefix matches every path starting with p.
func (g *GroupBuilder) Prefix(p string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: prefix, text: p})
	return g
}

// Service matches every method of the named service ("package.Service").
func (g *GroupBuilder) Service(name string) *GroupBuilder {
	return g.Prefix("/" + name + "/")
}

// Regex matches paths containing a match of expr. It panics if expr does not
// compile.
func (g *GroupBuilder) Regex(expr string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: pattern, text: expr, re: regexp.MustCompile(expr)})
	return g
}

// Policy sets the policy of the group.
func (g *GroupBuilder) Policy(p Policy) *GroupBuilder {
	g.policy = &p
	return g
}
