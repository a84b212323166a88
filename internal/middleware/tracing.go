package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	ctxSpanJobID  = "span.job_id"
	ctxSpanDemoID = "span.demo_id"
)

// AnnotateJob tags the request span with the job a handler created or read.
// Either id may be empty.
func AnnotateJob(c *gin.Context, jobID, demoID string) {
	if jobID != "" {
		c.Set(ctxSpanJobID, jobID)
	}
	if demoID != "" {
		c.Set(ctxSpanDemoID, demoID)
	}
}

// TracingMiddleware continues an incoming W3C trace and opens one server span
// per request. Job and demo ids land on the span so a submit can be followed
// into the worker's netdemo.job.execute span.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "netdemo"
	}
	tracer := otel.Tracer(serviceName + "/http")

	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+c.Request.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.path", c.Request.URL.Path),
				attribute.String("netdemo.request_id", c.GetString("request_id")),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if route := c.FullPath(); route != "" {
			span.SetName("HTTP " + c.Request.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
		}
		span.SetAttributes(routeAttributes(c)...)

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func routeAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	jobID, demoID := c.GetString(ctxSpanJobID), c.GetString(ctxSpanDemoID)
	if id := c.Param("id"); id != "" {
		switch {
		case strings.HasPrefix(c.FullPath(), "/api/jobs/") && jobID == "":
			jobID = id
		case strings.HasPrefix(c.FullPath(), "/api/demos/") && demoID == "":
			demoID = id
		}
	}
	if jobID != "" {
		attrs = append(attrs, attribute.String("netdemo.job_id", jobID))
	}
	if demoID != "" {
		attrs = append(attrs, attribute.String("netdemo.demo_id", demoID))
	}
	if sub := c.GetString(ctxSubject); sub != "" {
		attrs = append(attrs, attribute.String("netdemo.subject", sub))
	}
	return attrs
}
