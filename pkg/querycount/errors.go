package querycount

import "errors"

var (
	// ErrScopeMisuse indicates a counter was closed twice or closed while a
	// counter nested beneath it was still open.
	ErrScopeMisuse = errors.New("query counter scope misuse")

	// ErrNegativeDuration indicates the caller measured a negative elapsed time.
	ErrNegativeDuration = errors.New("negative query duration")

	// ErrClosed indicates an event was recorded into a closed counter.
	ErrClosed = errors.New("query counter closed")
)
