package gateway

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/adonese/bloog/apigateway")

var (
	requestsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bloog",
		Subsystem: "request",
		Name:      "requests_count",
		Help:      "Number of requests per each endpoint",
	}, []string{"code", "method", "route"})

	resTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bloog",
		Subsystem: "response",
		Name:      "response_time_seconds",
		Help:      "bloog response duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	resSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bloog",
		Subsystem: "response",
		Name:      "size_bytes",
		Help:      "bloog response size",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
	})

	reqSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bloog",
		Subsystem: "request",
		Name:      "size_bytes",
		Help:      "Request size instrumenter",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
	})
)

// Instrumentation records request counts, latency and sizes per route and
// wraps the request in a server span. Without a tracer provider the span is
// a no-op.
func Instrumentation() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		route := routeOf(c)
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, strconv.Itoa(status))
		}
		requestsCount.WithLabelValues(strconv.Itoa(status), c.Request.Method, route).Inc()
		resTime.WithLabelValues(route).Observe(duration)
		resSize.Observe(float64(c.Writer.Size()))
		if c.Request.ContentLength > 0 {
			reqSize.Observe(float64(c.Request.ContentLength))
		}
	}
}

// routeOf is the matched route pattern, so that article paths do not blow
// up label cardinality.
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
