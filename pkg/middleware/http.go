package middleware

import (
	"net/http"
	"strconv"

	"github.com/Sternrassler/query-metrics/pkg/metrics"
	"github.com/Sternrassler/query-metrics/pkg/querycount"
)

// QueryCount returns middleware counting the database queries issued while
// serving each request.
//
// The counter is closed on every exit path. A panicking handler propagates
// its panic unchanged and emits no metrics.
func QueryCount(opts Options) func(http.Handler) http.Handler {
	if opts.Collector == nil {
		panic("middleware: collector cannot be nil")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, counter := querycount.Open(r.Context(), opts.CounterOptions...)
			rec := newStatusRecorder(w)
			req := r.WithContext(ctx)

			func() {
				defer counter.Close()
				next.ServeHTTP(rec, req)
			}()

			// ServeMux sets the pattern on the request it was handed.
			labels := metrics.ViewLabels{
				Method: r.Method,
				View:   opts.viewName(req),
				Status: strconv.Itoa(rec.statusCode),
			}

			opts.Collector.ObserveView(labels, counter)
			if opts.ObserveDuplicateQueries {
				opts.Collector.ObserveViewDuplicates(labels, counter)
			}
			opts.logDuplicates(counter, map[string]string{
				"method": labels.Method,
				"view":   labels.View,
				"status": labels.Status,
			})
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Flush forwards to the wrapped writer when it supports flushing.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.wroteHeader = true
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
