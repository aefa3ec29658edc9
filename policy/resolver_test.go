package policy

import (
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		groups    []*GroupBuilder
		method    string
		wantGroup string
		wantOK    bool
		timeout   time.Duration
	}{
		{
			name:      "exact",
			groups:    []*GroupBuilder{Group("admin").Exact("/admin.Service/Delete").Policy(Policy{AuthRequired: true})},
			method:    "/admin.Service/Delete",
			wantGroup: "admin",
			wantOK:    true,
		},
		{
			name:      "prefix",
			groups:    []*GroupBuilder{Group("public").Prefix("/public.").Policy(Policy{Timeout: 5 * time.Second})},
			method:    "/public.Service/List",
			wantGroup: "public",
			wantOK:    true,
			timeout:   5 * time.Second,
		},
		{
			name:      "regex",
			groups:    []*GroupBuilder{Group("health").Regex(`/grpc\.health\.`).Policy(Policy{})},
			method:    "/grpc.health.v1.Health/Check",
			wantGroup: "health",
			wantOK:    true,
		},
		{
			name:   "no match",
			groups: []*GroupBuilder{Group("admin").Exact("/admin.Service/Delete").Policy(Policy{})},
			method: "/other.Service/Get",
		},
		{
			name: "exact beats prefix",
			groups: []*GroupBuilder{
				Group("prefix-group").Prefix("/svc.Service/").Policy(Policy{Timeout: time.Second}),
				Group("exact-group").Exact("/svc.Service/Get").Policy(Policy{Timeout: 2 * time.Second}),
			},
			method:    "/svc.Service/Get",
			wantGroup: "exact-group",
			wantOK:    true,
			timeout:   2 * time.Second,
		},
		{
			name: "prefix beats regex",
			groups: []*GroupBuilder{
				Group("regex-group").Regex(`/svc\.Service/`).Policy(Policy{}),
				Group("prefix-group").Prefix("/svc.Service/").Policy(Policy{}),
			},
			method:    "/svc.Service/List",
			wantGroup: "prefix-group",
			wantOK:    true,
		},
		{
			name: "longer prefix wins",
			groups: []*GroupBuilder{
				Group("short").Prefix("/svc.").Policy(Policy{}),
				Group("long").Prefix("/svc.Service/").Policy(Policy{}),
			},
			method:    "/svc.Service/Get",
			wantGroup: "long",
			wantOK:    true,
		},
		{
			name: "first registered wins a tie",
			groups: []*GroupBuilder{
				Group("first").Exact("/svc.Service/Get").Policy(Policy{Timeout: time.Second}),
				Group("second").Exact("/svc.Service/Get").Policy(Policy{Timeout: 2 * time.Second}),
			},
			method:    "/svc.Service/Get",
			wantGroup: "first",
			wantOK:    true,
			timeout:   time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, pol, ok := NewResolver(tt.groups...).Resolve(tt.method)
			if ok != tt.wantOK || name != tt.wantGroup {
				t.Fatalf("Resolve(%q) = %q, %v; want %q, %v", tt.method, name, ok, tt.wantGroup, tt.wantOK)
			}
			if ok && pol.Timeout != tt.timeout {
				t.Fatalf("timeout = %v, want %v", pol.Timeout, tt.timeout)
			}
		})
	}
}

func TestResolve_MultipleRulesInGroup(t *testing.T) {
	r := NewResolver(
		Group("mixed").
			Exact("/svc.A/One").
			Prefix("/svc.B/").
			Regex(`/svc\.C/`).
			Policy(Policy{AuthRequired: true}),
	)

	for _, method := range []string{"/svc.A/One", "/svc.B/Two", "/svc.C/Three"} {
		name, pol, ok := r.Resolve(method)
		if !ok || name != "mixed" || !pol.AuthRequired {
			t.Fatalf("Resolve(%q) = %q, %+v, %v", method, name, pol, ok)
		}
	}
}

func TestResolve_Rules(t *testing.T) {
	r := NewResolver(
		Group("limited").
			Exact("/api.Service/Heavy").
			Policy(Policy{
				RateLimit: &RateLimitRule{Rate: 100, Window: time.Minute},
				Retry:     &RetryRule{MaxAttempts: 4},
			}),
	)

	_, pol, ok := r.Resolve("/api.Service/Heavy")
	if !ok {
		t.Fatal("expected a match")
	}
	if pol.RateLimit == nil || pol.RateLimit.Rate != 100 {
		t.Fatalf("unexpected rate limit %+v", pol.RateLimit)
	}
	if pol.Retry == nil || pol.Retry.MaxAttempts != 4 {
		t.Fatalf("unexpected retry rule %+v", pol.Retry)
	}
}

func TestResolve_NilResolver(t *testing.T) {
	var r *Resolver
	if _, _, ok := r.Resolve("/svc/Method"); ok {
		t.Fatal("nil resolver should match nothing")
	}
}

func TestResolve_ServiceRule(t *testing.T) {
	res := NewResolver(
		Group("echo").Service("test.Echo").Policy(Policy{AuthRequired: true}),
		Group("say").Exact("/test.Echo/Say").Policy(Policy{}),
	)
	for range 2 {
		if name, _, _ := res.Resolve("/test.Echo/Get"); name != "echo" {
			t.Fatalf("Get resolved to %q", name)
		}
		if name, pol, _ := res.Resolve("/test.Echo/Say"); name != "say" || pol.AuthRequired {
			t.Fatalf("Say resolved to %q", name)
		}
		if _, _, ok := res.Resolve("/test.EchoV2/Get"); ok {
			t.Fatal("service rule matched another service")
		}
	}
}
