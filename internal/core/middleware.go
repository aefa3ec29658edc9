// Package core holds the wiring shared by the public Server and Client
// types.
package core

import (
	"cmp"
	"slices"

	"github.com/Keksclan/rawrpipe/interceptors"
	"github.com/Keksclan/rawrpipe/pipeline"
)

// entry is one middleware with its position. Lower Order values see a call
// first.
type entry struct {
	mw    pipeline.ServerMiddleware
	order int
}

// MiddlewareBuilder collects server middlewares and chains them by order.
type MiddlewareBuilder struct {
	entries []entry
}

// Add registers mw at order. Nil middlewares are ignored.
func (b *MiddlewareBuilder) Add(order int, mw pipeline.ServerMiddleware) {
	if mw == nil {
		return
	}
	b.entries = append(b.entries, entry{mw: mw, order: order})
}

// Len returns the number of registered middlewares.
func (b *MiddlewareBuilder) Len() int { return len(b.entries) }

// Sorted returns the middlewares by order. Equal orders keep their
// registration order.
func (b *MiddlewareBuilder) Sorted() []pipeline.ServerMiddleware {
	entries := slices.Clone(b.entries)
	slices.SortStableFunc(entries, func(a, c entry) int {
		return cmp.Compare(a.order, c.order)
	})
	mws := make([]pipeline.ServerMiddleware, len(entries))
	for i, e := range entries {
		mws[i] = e.mw
	}
	return mws
}

// Build chains the sorted middlewares. It returns nil when none were added.
func (b *MiddlewareBuilder) Build() pipeline.ServerMiddleware {
	return interceptors.ChainServer(b.Sorted())
}
