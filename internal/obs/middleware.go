package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-laundry/internal/common"
)

const unmatchedRoute = "unmatched"

// HTTPObs records request counts, latency and concurrency per chi route.
type HTTPObs struct {
	Metrics *HTTPMetrics
}

func (o HTTPObs) Middleware(next http.Handler) http.Handler {
	if o.Metrics == nil {
		return next
	}
	m := o.Metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		m.Inflight.Inc()
		defer m.Inflight.Dec()

		start := time.Now()
		next.ServeHTTP(ww, r)

		route := routeOr(r, unmatchedRoute)
		m.Requests.WithLabelValues(r.Method, route, strconv.Itoa(statusOf(ww))).Inc()
		m.Duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// TracingMiddleware opens an otelhttp server span and, once chi has routed
// the request, renames it after the route template.
func TracingMiddleware(next http.Handler) http.Handler {
	annotate := func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		route := routeOr(r, r.URL.Path)
		attrs := []attribute.KeyValue{attribute.String("http.route", route)}
		if userID, ok := common.UserID(r.Context()); ok {
			attrs = append(attrs, attribute.String("enduser.id", userID))
		}
		span := trace.SpanFromContext(r.Context())
		span.SetName(r.Method + " " + route)
		span.SetAttributes(attrs...)
	}
	return otelhttp.NewHandler(http.HandlerFunc(annotate), "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// routeOr returns the chi route template that served r, or fallback when the
// request never matched a route.
func routeOr(r *http.Request, fallback string) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return fallback
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}
