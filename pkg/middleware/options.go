// Package middleware opens a query counter around each HTTP request or task
// execution and pushes the resulting aggregates into the metrics sink.
package middleware

import (
	"net/http"

	"github.com/Sternrassler/query-metrics/pkg/metrics"
	"github.com/Sternrassler/query-metrics/pkg/querycount"
	"github.com/rs/zerolog"
)

// UnnamedView labels requests that matched no named route.
const UnnamedView = "<unnamed view>"

// DefaultQueue labels tasks run without an explicit queue.
const DefaultQueue = "default"

// Options configures QueryCount and TaskRunner.
type Options struct {
	// Collector receives the aggregates. Required.
	Collector *metrics.Collector

	// ObserveDuplicateQueries enables duplicate query metrics.
	ObserveDuplicateQueries bool

	// PrintDuplicateQueries logs every duplicate query at warn level.
	PrintDuplicateQueries bool

	// ViewName derives the view label. Defaults to the ServeMux pattern.
	ViewName func(r *http.Request) string

	// Queue labels tasks run by a TaskRunner. Defaults to DefaultQueue.
	Queue string

	// CounterOptions are passed to querycount.Open for each scope.
	CounterOptions []querycount.Option

	Logger zerolog.Logger
}

func defaultViewName(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return UnnamedView
}

func (o Options) viewName(r *http.Request) string {
	if o.ViewName != nil {
		if name := o.ViewName(r); name != "" {
			return name
		}
		return UnnamedView
	}
	return defaultViewName(r)
}

// logDuplicates writes one warn line per duplicate event in counter.
func (o Options) logDuplicates(counter *querycount.Counter, fields map[string]string) {
	if !o.PrintDuplicateQueries {
		return
	}
	for _, ev := range counter.Duplicates() {
		e := o.Logger.Warn().
			Str("db", ev.Alias).
			Str("query", ev.Identity).
			Dur("duration", ev.Duration)
		for k, v := range fields {
			e = e.Str(k, v)
		}
		e.Msg("Duplicate query")
	}
}
