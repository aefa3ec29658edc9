// Package contextx stores per-call values set by the server middlewares: the
// authenticated actor, the request id and the policy group.
package contextx

type contextKey int

const (
	actorKey contextKey = iota
	requestIDKey
	groupKey
)
