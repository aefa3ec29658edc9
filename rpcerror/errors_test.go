package rpcerror

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// foreignClientError mimics a ClientError built by another compiled copy of
// this package: same tag and method set, different Go type.
type foreignClientError struct {
	path    string
	code    uint32
	details string
}

func (e *foreignClientError) Error() string         { return "foreign" }
func (e *foreignClientError) ErrorKind() string     { return KindClientError }
func (e *foreignClientError) StatusCode() uint32    { return e.code }
func (e *foreignClientError) StatusDetails() string { return e.details }
func (e *foreignClientError) MethodPath() string    { return e.path }

func TestCodesMatchGRPC(t *testing.T) {
	tests := []struct {
		code Code
		grpc codes.Code
		name string
	}{
		{OK, codes.OK, "OK"},
		{Canceled, codes.Canceled, "CANCELLED"},
		{Unknown, codes.Unknown, "UNKNOWN"},
		{DeadlineExceeded, codes.DeadlineExceeded, "DEADLINE_EXCEEDED"},
		{ResourceExhausted, codes.ResourceExhausted, "RESOURCE_EXHAUSTED"},
		{Unimplemented, codes.Unimplemented, "UNIMPLEMENTED"},
		{Unavailable, codes.Unavailable, "UNAVAILABLE"},
		{Unauthenticated, codes.Unauthenticated, "UNAUTHENTICATED"},
	}
	for _, tt := range tests {
		if tt.code.GRPC() != tt.grpc {
			t.Errorf("%v.GRPC() = %v, want %v", tt.code, tt.code.GRPC(), tt.grpc)
		}
		if tt.code.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.code.String(), tt.name)
		}
		parsed, err := ParseCode(tt.name)
		if err != nil || parsed != tt.code {
			t.Errorf("ParseCode(%q) = %v, %v", tt.name, parsed, err)
		}
	}
	if FromGRPC(codes.Code(99)) != Unknown {
		t.Fatal("out-of-range grpc code should map to Unknown")
	}
	if _, err := ParseCode("NOPE"); err == nil {
		t.Fatal("expected error for unknown code name")
	}
}

func TestAsClientError_SameType(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewClientError("/svc/M", Unavailable, "down"))
	ce, ok := AsClientError(err)
	if !ok {
		t.Fatal("expected ClientError")
	}
	if ce.Code != Unavailable || ce.Path != "/svc/M" || ce.Details != "down" {
		t.Fatalf("unexpected error: %+v", ce)
	}
}

func TestAsClientError_ForeignCopy(t *testing.T) {
	err := &foreignClientError{path: "/svc/M", code: uint32(Internal), details: "boom"}
	ce, ok := AsClientError(err)
	if !ok {
		t.Fatal("expected foreign ClientError to be recognized by tag")
	}
	if ce.Code != Internal || ce.Path != "/svc/M" || ce.Details != "boom" {
		t.Fatalf("unexpected conversion: %+v", ce)
	}
	if _, ok := AsServerError(err); ok {
		t.Fatal("a ClientError tag must not match ServerError")
	}
}

func TestAsClientError_RejectsOthers(t *testing.T) {
	for _, err := range []error{
		errors.New("plain"),
		NewServerError(NotFound, "x"),
		&AbortError{},
		status.Error(codes.Unavailable, "grpc"),
	} {
		if _, ok := AsClientError(err); ok {
			t.Errorf("AsClientError(%v) = true, want false", err)
		}
	}
}

func TestIsAbort(t *testing.T) {
	if !IsAbort(&AbortError{Cause: context.Canceled}) {
		t.Fatal("AbortError must be an abort")
	}
	if !IsAbort(fmt.Errorf("x: %w", context.Canceled)) {
		t.Fatal("context.Canceled must be an abort")
	}
	if IsAbort(NewClientError("/a/b", Canceled, "transport")) {
		t.Fatal("a CANCELLED ClientError is not an abort")
	}
	if IsAbort(nil) {
		t.Fatal("nil is not an abort")
	}
}

func TestFromTransport(t *testing.T) {
	t.Run("caller cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		err := FromTransport(ctx, "/a/b", status.Error(codes.Canceled, "context canceled"))
		if !IsAbort(err) {
			t.Fatalf("expected abort, got %v", err)
		}
	})

	t.Run("transport cancelled", func(t *testing.T) {
		err := FromTransport(t.Context(), "/a/b", status.Error(codes.Canceled, "stream reset"))
		ce, ok := AsClientError(err)
		if !ok || ce.Code != Canceled {
			t.Fatalf("expected CANCELLED ClientError, got %v", err)
		}
	})

	t.Run("status", func(t *testing.T) {
		err := FromTransport(t.Context(), "/a/b", status.Error(codes.NotFound, "missing"))
		ce, ok := AsClientError(err)
		if !ok || ce.Code != NotFound || ce.Details != "missing" || ce.Path != "/a/b" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("plain error", func(t *testing.T) {
		err := FromTransport(t.Context(), "/a/b", errors.New("connection refused"))
		ce, ok := AsClientError(err)
		if !ok || ce.Code != Unknown {
			t.Fatalf("expected UNKNOWN ClientError, got %v", err)
		}
	})

	t.Run("nil", func(t *testing.T) {
		if FromTransport(t.Context(), "/a/b", nil) != nil {
			t.Fatal("nil must stay nil")
		}
	})
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  codes.Code
		msg   string
		known bool
	}{
		{"server error", NewServerError(NotFound, "no such thing"), codes.NotFound, "no such thing", true},
		{"grpc status", status.Error(codes.AlreadyExists, "dup"), codes.AlreadyExists, "dup", true},
		{"abort", &AbortError{Cause: context.Canceled}, codes.Canceled, "the operation has been aborted", true},
		{"validation", Validationf("bad shape"), codes.Unknown, "unknown server error", false},
		{"client error", NewClientError("/x/y", Internal, "downstream"), codes.Unknown, "unknown server error", false},
		{"plain", errors.New("oops"), codes.Unknown, "unknown server error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, known := ToStatus(tt.err)
			if st.Code() != tt.code || st.Message() != tt.msg || known != tt.known {
				t.Fatalf("ToStatus = (%v %q, %v), want (%v %q, %v)", st.Code(), st.Message(), known, tt.code, tt.msg, tt.known)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != OK {
		t.Fatal("nil should be OK")
	}
	if CodeOf(NewServerError(PermissionDenied, "")) != PermissionDenied {
		t.Fatal("expected PERMISSION_DENIED")
	}
	if CodeOf(&foreignClientError{code: uint32(DataLoss)}) != DataLoss {
		t.Fatal("expected DATA_LOSS from foreign error")
	}
	if CodeOf(context.Canceled) != Canceled {
		t.Fatal("expected CANCELLED for aborts")
	}
	if CodeOf(errors.New("x")) != Unknown {
		t.Fatal("expected UNKNOWN")
	}
}

func TestErrorStrings(t *testing.T) {
	if got := NewClientError("/svc/M", Unavailable, "down").Error(); got != "/svc/M UNAVAILABLE: down" {
		t.Fatalf("ClientError.Error() = %q", got)
	}
	if got := NewServerError(NotFound, "gone").Error(); got != "NOT_FOUND: gone" {
		t.Fatalf("ServerError.Error() = %q", got)
	}
}
