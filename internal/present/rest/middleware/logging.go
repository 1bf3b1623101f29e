package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// RequestLogger logs one line per request, tagged with the trace id when the
// request is traced.
func RequestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			event := log.Debug()
			status := c.Response().Status
			if status >= 500 {
				event = log.Error()
			}

			spanCtx := trace.SpanContextFromContext(req.Context())
			if spanCtx.HasTraceID() {
				event = event.Str("trace_id", spanCtx.TraceID().String())
			}

			event.
				Str("method", req.Method).
				Str("path", c.Path()).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Msg("request")

			return nil
		}
	}
}
