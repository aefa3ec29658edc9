package contextx

import (
	"slices"
	"testing"
)

func TestWithActorRoundTrip(t *testing.T) {
	a := Actor{
		Subject:  "user-1",
		Tenant:   "tenant-a",
		ClientID: "client-42",
		Scopes:   []string{"read", "write"},
	}
	got, ok := ActorFromContext(WithActor(t.Context(), a))
	if !ok {
		t.Fatal("expected actor in context")
	}
	if got.Subject != a.Subject || got.Tenant != a.Tenant || got.ClientID != a.ClientID {
		t.Fatalf("got %+v, want %+v", got, a)
	}
	if !slices.Equal(got.Scopes, a.Scopes) {
		t.Fatalf("Scopes: got %v, want %v", got.Scopes, a.Scopes)
	}
	if !got.HasScope("write") || got.HasScope("admin") {
		t.Fatalf("HasScope mismatch for %v", got.Scopes)
	}
}

func TestActorFromContextMissing(t *testing.T) {
	if _, ok := ActorFromContext(t.Context()); ok {
		t.Fatal("expected no actor in empty context")
	}
}
