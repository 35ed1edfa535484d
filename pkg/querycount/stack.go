package querycount

import (
	"context"
	"errors"
	"time"
)

type contextKey struct{}

// Open creates an empty counter and returns a context carrying it as the
// current counter. If ctx already has a current counter the new one is
// nested beneath it.
//
// The caller must close the counter on every exit path:
//
//	ctx, counter := querycount.Open(ctx)
//	defer counter.Close()
func Open(ctx context.Context, opts ...Option) (context.Context, *Counter) {
	c := newCounter(opts...)

	// The parent may close between lookup and adoption; climb until an
	// open ancestor accepts the child.
	parent := Current(ctx)
	for parent != nil && !parent.adopt() {
		parent = nearestOpen(parent.parent)
	}
	c.parent = parent

	return context.WithValue(ctx, contextKey{}, c), c
}

// Current returns the innermost open counter carried by ctx, or nil.
func Current(ctx context.Context) *Counter {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(contextKey{}).(*Counter)
	return nearestOpen(c)
}

// Stack returns the open counters carried by ctx, outermost first.
func Stack(ctx context.Context) []*Counter {
	var stack []*Counter
	for c := Current(ctx); c != nil; c = nearestOpen(c.parent) {
		stack = append(stack, c)
	}
	for i, j := 0, len(stack)-1; i < j; i, j = i+1, j-1 {
		stack[i], stack[j] = stack[j], stack[i]
	}
	return stack
}

// OnQueryExecuted records a query event into the current counter of ctx.
// Without a current counter the event is dropped and nil is returned.
func OnQueryExecuted(ctx context.Context, alias, identity string, d time.Duration) error {
	for c := Current(ctx); c != nil; c = nearestOpen(c.parent) {
		err := c.Record(alias, identity, d)
		if !errors.Is(err, ErrClosed) {
			return err
		}
	}
	return nil
}

func nearestOpen(c *Counter) *Counter {
	for c != nil && c.Closed() {
		c = c.parent
	}
	return c
}
