// Package rpcerror defines the status codes and error values surfaced by the
// call pipeline. Codes are numerically identical to the standard gRPC status
// model so that errors raised here stay wire-compatible with any gRPC peer.
package rpcerror

import (
	"fmt"
	"strconv"

	"google.golang.org/grpc/codes"
)

// Code is an RPC status code.
type Code uint32

const (
	OK Code = iota
	Canceled
	Unknown
	InvalidArgument
	DeadlineExceeded
	NotFound
	AlreadyExists
	PermissionDenied
	ResourceExhausted
	FailedPrecondition
	Aborted
	OutOfRange
	Unimplemented
	Internal
	Unavailable
	DataLoss
	Unauthenticated
)

var codeNames = [...]string{
	OK:                 "OK",
	Canceled:           "CANCELLED",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	DeadlineExceeded:   "DEADLINE_EXCEEDED",
	NotFound:           "NOT_FOUND",
	AlreadyExists:      "ALREADY_EXISTS",
	PermissionDenied:   "PERMISSION_DENIED",
	ResourceExhausted:  "RESOURCE_EXHAUSTED",
	FailedPrecondition: "FAILED_PRECONDITION",
	Aborted:            "ABORTED",
	OutOfRange:         "OUT_OF_RANGE",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
	Unavailable:        "UNAVAILABLE",
	DataLoss:           "DATA_LOSS",
	Unauthenticated:    "UNAUTHENTICATED",
}

// String returns the canonical upper-case name of c, e.g. "UNAVAILABLE".
func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "Code(" + strconv.FormatUint(uint64(c), 10) + ")"
}

// ParseCode parses a canonical code name or its decimal value.
func ParseCode(s string) (Code, error) {
	for i, name := range codeNames {
		if name == s {
			return Code(i), nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil && n < uint64(len(codeNames)) {
		return Code(n), nil
	}
	return Unknown, fmt.Errorf("rpcerror: unknown status code %q", s)
}

// GRPC converts c to the equivalent grpc code.
func (c Code) GRPC() codes.Code {
	return codes.Code(c)
}

// FromGRPC converts a grpc code. Values outside the closed set map to Unknown.
func FromGRPC(c codes.Code) Code {
	if int(c) < len(codeNames) {
		return Code(c)
	}
	return Unknown
}
