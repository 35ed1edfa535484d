package querycount

import (
	"fmt"
	"sync"
	"time"
)

// Counter accumulates the query events of one unit of work.
//
// Record may be called from any goroutine holding the counter's context.
// Aggregate reads return fresh maps and can be called any number of times,
// before or after Close.
type Counter struct {
	mu sync.Mutex

	// parent is fixed at Open and never changes.
	parent    *Counter
	normalize Normalizer

	closed       bool
	openChildren int

	events     []Event
	duplicates []Event
	byAlias    map[string]*aggregate
}

// Option configures a Counter at Open.
type Option func(*Counter)

// WithNormalizer sets the function mapping identities onto duplicate
// detection keys. The default compares raw identities exactly.
func WithNormalizer(n Normalizer) Option {
	return func(c *Counter) {
		c.normalize = n
	}
}

func newCounter(opts ...Option) *Counter {
	c := &Counter{
		byAlias: make(map[string]*aggregate),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record appends a query event to the counter.
// Returns ErrNegativeDuration if d < 0 and ErrClosed once the counter is closed.
func (c *Counter) Record(alias, identity string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %s on alias %q", ErrNegativeDuration, d, alias)
	}

	key := identity
	if c.normalize != nil {
		key = c.normalize(identity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	ev := Event{Alias: alias, Identity: identity, Duration: d}
	c.events = append(c.events, ev)

	agg, ok := c.byAlias[alias]
	if !ok {
		agg = &aggregate{seen: make(map[string]struct{})}
		c.byAlias[alias] = agg
	}
	agg.count++
	agg.duration += d

	if _, seen := agg.seen[key]; seen {
		agg.duplicates++
		c.duplicates = append(c.duplicates, ev)
	} else {
		agg.seen[key] = struct{}{}
	}

	return nil
}

// Close ends the counter's scope and makes its parent current again.
// Recorded data stays readable.
//
// Close panics with an error wrapping ErrScopeMisuse if the counter is
// already closed or a counter opened beneath it is still open.
func (c *Counter) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		panic(fmt.Errorf("%w: counter already closed", ErrScopeMisuse))
	}
	if n := c.openChildren; n > 0 {
		c.mu.Unlock()
		panic(fmt.Errorf("%w: closing counter with %d nested counter(s) still open", ErrScopeMisuse, n))
	}
	c.closed = true
	c.mu.Unlock()

	if c.parent != nil {
		c.parent.release()
	}
}

// Closed reports whether Close has been called.
func (c *Counter) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// adopt registers a nested counter. It fails if c is already closed.
func (c *Counter) adopt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.openChildren++
	return true
}

func (c *Counter) release() {
	c.mu.Lock()
	c.openChildren--
	c.mu.Unlock()
}

// TotalQueryCountByAlias returns the number of recorded events per alias.
func (c *Counter) TotalQueryCountByAlias() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.byAlias))
	for alias, agg := range c.byAlias {
		out[alias] = agg.count
	}
	return out
}

// TotalDurationByAlias returns the summed duration of recorded events per alias.
func (c *Counter) TotalDurationByAlias() map[string]time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]time.Duration, len(c.byAlias))
	for alias, agg := range c.byAlias {
		out[alias] = agg.duration
	}
	return out
}

// TotalDurationSecondsByAlias is TotalDurationByAlias in seconds.
func (c *Counter) TotalDurationSecondsByAlias() map[string]float64 {
	durations := c.TotalDurationByAlias()
	out := make(map[string]float64, len(durations))
	for alias, d := range durations {
		out[alias] = d.Seconds()
	}
	return out
}

// TotalDuplicateCountByAlias returns, per alias, the number of events whose
// identity matched an earlier event on the same alias.
func (c *Counter) TotalDuplicateCountByAlias() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.byAlias))
	for alias, agg := range c.byAlias {
		out[alias] = agg.duplicates
	}
	return out
}

// Events returns all recorded events in insertion order.
func (c *Counter) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Duplicates returns the events classified as duplicates, in insertion order.
func (c *Counter) Duplicates() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.duplicates...)
}
