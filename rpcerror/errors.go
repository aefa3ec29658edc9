package rpcerror

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind tags identify error variants independently of Go type identity. Two
// separately compiled copies of this package (different major versions, a
// vendored fork) agree on the tag even though their types differ.
const (
	KindClientError     = "rawrpipe.ClientError"
	KindServerError     = "rawrpipe.ServerError"
	KindAbortError      = "rawrpipe.AbortError"
	KindValidationError = "rawrpipe.ValidationError"
)

// kinded is satisfied by every error variant declared in this package and by
// compatible copies of it.
type kinded interface {
	error
	ErrorKind() string
}

// statusLike is the structural view of a status-coded error. Only builtin
// types appear in the method set so that copies of this package match.
type statusLike interface {
	kinded
	StatusCode() uint32
	StatusDetails() string
}

type clientErrorLike interface {
	statusLike
	MethodPath() string
}

// ClientError is returned to the caller when an RPC completed with a non-OK
// status.
type ClientError struct {
	Path    string
	Code    Code
	Details string
}

// NewClientError builds a ClientError for the method at path.
func NewClientError(path string, code Code, details string) *ClientError {
	return &ClientError{Path: path, Code: code, Details: details}
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Path, e.Code, e.Details)
}

func (e *ClientError) ErrorKind() string     { return KindClientError }
func (e *ClientError) StatusCode() uint32    { return uint32(e.Code) }
func (e *ClientError) StatusDetails() string { return e.Details }
func (e *ClientError) MethodPath() string    { return e.Path }

// GRPCStatus lets grpc's status.FromError understand the error.
func (e *ClientError) GRPCStatus() *status.Status {
	return status.New(e.Code.GRPC(), e.Details)
}

// ServerError is returned by handlers and server middlewares to finish a call
// with a specific status.
type ServerError struct {
	Code    Code
	Details string
}

// NewServerError builds a ServerError.
func NewServerError(code Code, details string) *ServerError {
	return &ServerError{Code: code, Details: details}
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Details)
}

func (e *ServerError) ErrorKind() string     { return KindServerError }
func (e *ServerError) StatusCode() uint32    { return uint32(e.Code) }
func (e *ServerError) StatusDetails() string { return e.Details }

// GRPCStatus lets grpc's status.FromError understand the error.
func (e *ServerError) GRPCStatus() *status.Status {
	return status.New(e.Code.GRPC(), e.Details)
}

// AbortError reports a cooperative abort: the caller's context was cancelled
// or its own deadline passed. It is never a status-coded failure.
type AbortError struct {
	Cause error
}

// Abort returns an AbortError carrying the cancellation cause of ctx.
func Abort(ctx context.Context) *AbortError {
	return &AbortError{Cause: context.Cause(ctx)}
}

func (e *AbortError) Error() string {
	if e.Cause == nil {
		return "the operation has been aborted"
	}
	return "the operation has been aborted: " + e.Cause.Error()
}

func (e *AbortError) Unwrap() error     { return e.Cause }
func (e *AbortError) ErrorKind() string { return KindAbortError }

// ValidationError is a local programming error: malformed metadata or a
// middleware that broke the call shape. It is never sent to the peer.
type ValidationError struct {
	Reason string
}

// Validationf formats a ValidationError.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string     { return "rawrpipe: " + e.Reason }
func (e *ValidationError) ErrorKind() string { return KindValidationError }

// AsClientError reports whether err is, or wraps, a ClientError. Errors from
// compatible copies of this package are converted.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	var like clientErrorLike
	if errors.As(err, &like) && like.ErrorKind() == KindClientError {
		return &ClientError{
			Path:    like.MethodPath(),
			Code:    Code(like.StatusCode()),
			Details: like.StatusDetails(),
		}, true
	}
	return nil, false
}

// AsServerError reports whether err is, or wraps, a ServerError.
func AsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	var like statusLike
	if errors.As(err, &like) && like.ErrorKind() == KindServerError {
		return &ServerError{
			Code:    Code(like.StatusCode()),
			Details: like.StatusDetails(),
		}, true
	}
	return nil, false
}

// IsAbort reports whether err represents a cooperative abort.
func IsAbort(err error) bool {
	if err == nil {
		return false
	}
	var k kinded
	if errors.As(err, &k) && k.ErrorKind() == KindAbortError {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// IsValidation reports whether err is a local validation error.
func IsValidation(err error) bool {
	var k kinded
	return errors.As(err, &k) && k.ErrorKind() == KindValidationError
}

// CodeOf summarizes err as a status code: OK for nil, the carried code for
// status-coded errors, Canceled for aborts and Unknown otherwise.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return OK
	case IsAbort(err):
		return Canceled
	}
	var like statusLike
	if errors.As(err, &like) {
		return Code(like.StatusCode())
	}
	if st, ok := status.FromError(err); ok {
		return FromGRPC(st.Code())
	}
	return Unknown
}

// FromTransport classifies a failure reported by the transport for the call
// at path. When ctx, the context the call was started with, is already done
// the failure is an abort. A transport-side cancellation while ctx is alive
// stays a recoverable ClientError with code Canceled.
func FromTransport(ctx context.Context, path string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return Abort(ctx)
	}
	if _, ok := AsClientError(err); ok {
		return err
	}
	var k kinded
	if errors.As(err, &k) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		st := status.FromContextError(err)
		return &ClientError{Path: path, Code: FromGRPC(st.Code()), Details: st.Message()}
	}
	if st, ok := status.FromError(err); ok {
		return &ClientError{Path: path, Code: FromGRPC(st.Code()), Details: st.Message()}
	}
	return &ClientError{Path: path, Code: Unknown, Details: err.Error()}
}

// unknownServerError is the only detail a peer ever sees for failures the
// server did not classify.
var unknownServerError = status.New(codes.Unknown, "unknown server error")

// ToStatus maps a handler failure to the status sent to the peer. known is
// false when the failure was not a deliberate status and should be logged
// locally.
func ToStatus(err error) (st *status.Status, known bool) {
	if err == nil {
		return status.New(codes.OK, ""), true
	}
	if se, ok := AsServerError(err); ok {
		return status.New(se.Code.GRPC(), se.Details), true
	}
	if IsAbort(err) {
		return status.New(codes.Canceled, "the operation has been aborted"), true
	}
	if _, ok := AsClientError(err); ok {
		return unknownServerError, false
	}
	var k kinded
	if errors.As(err, &k) {
		return unknownServerError, false
	}
	if st, ok := status.FromError(err); ok {
		return st, true
	}
	return unknownServerError, false
}
