// Package auth provides the authentication function type used by the
// authentication middleware.
package auth

import (
	"context"
	"strings"

	"github.com/Keksclan/rawrpipe/metadata"
)

// AuthFunc authenticates a call. It receives the call context, the method
// path and the request metadata. On success it returns a (possibly enriched)
// context; on failure an error.
//
// Token parsing is left to the implementation.
type AuthFunc func(ctx context.Context, fullMethod string, md *metadata.Metadata) (context.Context, error)

// BearerToken returns the token of an "authorization: Bearer <token>" header.
func BearerToken(md *metadata.Metadata) (string, bool) {
	v, ok := md.Get("authorization")
	if !ok {
		return "", false
	}
	scheme, token, found := strings.Cut(v, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
