package auth_test

import (
	"testing"

	"github.com/Keksclan/rawrpipe/auth"
	"github.com/Keksclan/rawrpipe/metadata"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  xyz ", "xyz", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
	}
	for _, tt := range tests {
		md, err := metadata.Pairs("authorization", tt.header)
		if err != nil {
			t.Fatal(err)
		}
		token, ok := auth.BearerToken(md)
		if token != tt.token || ok != tt.ok {
			t.Fatalf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, token, ok, tt.token, tt.ok)
		}
	}

	if _, ok := auth.BearerToken(metadata.Empty()); ok {
		t.Fatal("expected no token without authorization header")
	}
}
