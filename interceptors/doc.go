// Package interceptors provides the built-in server middlewares: panic
// recovery, request ids, authentication, IP blocking, rate limiting and
// policy group resolution, plus helpers to chain middlewares.
//
// Every middleware is written once against [pipeline.ServerMiddleware] and
// applies to all four call shapes.
package interceptors
