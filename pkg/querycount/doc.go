// Package querycount attributes database queries to the unit of work
// (HTTP request, task execution) that issued them.
//
// A unit of work opens a Counter at its start and closes it when it ends.
// Query event sources look up the current counter through the request
// context and record into it; outside any open scope events are dropped.
//
// # Basic Usage
//
//	ctx, counter := querycount.Open(r.Context())
//	func() {
//		defer counter.Close()
//		next.ServeHTTP(w, r.WithContext(ctx))
//	}()
//
//	for db, n := range counter.TotalQueryCountByAlias() {
//		// push n into the metrics sink
//	}
//
// # Event Sources
//
// Anything intercepting database access reports through OnQueryExecuted:
//
//	start := time.Now()
//	rows, err := db.QueryContext(ctx, query, args...)
//	_ = querycount.OnQueryExecuted(ctx, "default", identity, time.Since(start))
//
// # Nesting
//
// Opening a counter on a context that already carries one nests the new
// counter beneath it. Events recorded through the nested context go to the
// innermost open counter only. A counter can only be closed once everything
// opened beneath it has been closed; anything else is a scope leak and
// panics with ErrScopeMisuse.
//
// # Duplicates
//
// Within one counter, an event whose identity (after normalization, raw
// text by default) was already seen for the same alias is a duplicate. The
// first occurrence is never counted.
package querycount
