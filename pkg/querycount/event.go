package querycount

import "time"

// Event is one recorded database call.
type Event struct {
	// Alias is the logical database connection the query ran on.
	Alias string

	// Identity is the comparison key for duplicate detection: query text
	// together with its bound parameters.
	Identity string

	// Duration is the elapsed time of the call.
	Duration time.Duration
}

// Normalizer maps a raw identity onto the key used for duplicate detection.
type Normalizer func(identity string) string

// aggregate holds the running totals for one alias.
type aggregate struct {
	count      int
	duration   time.Duration
	duplicates int
	seen       map[string]struct{}
}
