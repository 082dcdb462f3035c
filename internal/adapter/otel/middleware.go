package otel

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untraced paths are polled or long-lived and would drown the useful spans.
var untraced = map[string]bool{
	"/health": true,
	"/ws":     true,
}

// HTTPMiddleware creates a server span per request, named after the chi
// route pattern once routing has resolved it.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithFilter(func(r *http.Request) bool { return !untraced[r.URL.Path] }),
			otelhttp.WithSpanNameFormatter(routeSpanName),
		)
	}
}

func routeSpanName(_ string, r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return r.Method + " " + p
		}
	}
	return r.Method + " " + r.URL.Path
}

// Transport wraps base so backend calls carry trace context and get client
// spans named after the wire endpoint.
func Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "git " + r.Method + " " + r.URL.Path
		}),
	)
}
