package pipeline

import (
	"context"
	"iter"

	"github.com/Keksclan/rawrpipe/rpcerror"
)

// Source is an asynchronous sequence of messages. Iteration stops at the
// first non-nil error.
//
// A client adapter drives a request Source from its own goroutine and cannot
// interrupt it: a Source waiting on external input must return by itself once
// the caller gives up on the call. [SourceFromChan] returns when its context
// is done.
type Source = iter.Seq2[any, error]

// SourceOf returns a Source yielding msgs in order.
func SourceOf(msgs ...any) Source {
	return func(yield func(any, error) bool) {
		for _, m := range msgs {
			if !yield(m, nil) {
				return
			}
		}
	}
}

// SourceFromChan returns a Source that yields from ch until it is closed. It
// fails with an abort error once ctx is done, without taking another message
// from ch.
func SourceFromChan(ctx context.Context, ch <-chan any) Source {
	return func(yield func(any, error) bool) {
		for {
			if ctx.Err() != nil {
				yield(nil, rpcerror.Abort(ctx))
				return
			}
			select {
			case <-ctx.Done():
				yield(nil, rpcerror.Abort(ctx))
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				if !yield(m, nil) {
					return
				}
			}
		}
	}
}

// Request is the request side of a call. Exactly one of Message and Stream
// is set, matching the method's shape.
type Request struct {
	Message any
	Stream  Source
}

// Yield receives one intermediate response item. A non-nil return tells the
// producer to stop and return that error.
type Yield func(item any) error

// Producer is a lazy, single-use step iterator. Nothing happens until it is
// driven. Intermediate items are handed to yield in production order; the
// return value is the terminal step. final is set only for methods without
// a response stream.
type Producer func(yield Yield) (final any, err error)

// Value returns a Producer completing with v.
func Value(v any) Producer {
	return func(Yield) (any, error) { return v, nil }
}

// Fail returns a Producer that fails with err.
func Fail(err error) Producer {
	return func(Yield) (any, error) { return nil, err }
}

// Items returns a Producer yielding every item then completing with no final
// value.
func Items(items ...any) Producer {
	return func(yield Yield) (any, error) {
		for _, it := range items {
			if err := yield(it); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

// FromSource drains src into yield.
func FromSource(src Source) Producer {
	return func(yield Yield) (any, error) {
		for item, err := range src {
			if err != nil {
				return nil, err
			}
			if err := yield(item); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

// Collect drives p to completion and returns everything it produced.
func Collect(p Producer) (items []any, final any, err error) {
	final, err = p(func(item any) error {
		items = append(items, item)
		return nil
	})
	return items, final, err
}

// Observe wraps p so that onItem sees every item before it is forwarded.
func Observe(p Producer, onItem func(item any)) Producer {
	return func(yield Yield) (any, error) {
		return p(func(item any) error {
			onItem(item)
			return yield(item)
		})
	}
}
