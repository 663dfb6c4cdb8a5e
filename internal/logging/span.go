package logging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Span represents a logical unit of work tied to a request trace.
type Span struct {
	name   string
	logger zerolog.Logger
	start  time.Time
	failed error
}

// StartSpan derives a child span from the provided context, enriching the logger
// with tracing metadata. It returns the derived context and the span handle.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	logCtx := FromContext(ctx).With()

	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
		ctx = WithTraceID(ctx, traceID)
		logCtx = logCtx.Str("trace_id", traceID)
	}

	parentSpanID := SpanIDFromContext(ctx)
	spanID := uuid.NewString()

	logCtx = logCtx.Str("span_id", spanID).Str("span_name", name)
	if parentSpanID != "" {
		logCtx = logCtx.Str("parent_span_id", parentSpanID)
	}
	logger := logCtx.Logger()

	ctx = WithLogger(ctx, logger)
	ctx = WithSpanID(ctx, spanID)

	return ctx, &Span{name: name, logger: logger, start: time.Now()}
}

// Fail marks the span as failed; End reports the error instead of success.
func (s *Span) Fail(err error) {
	if s == nil {
		return
	}
	s.failed = err
}

// End finalizes the span and emits a completion log entry.
func (s *Span) End() {
	if s == nil {
		return
	}
	if s.failed != nil {
		s.logger.Warn().Err(s.failed).Dur("duration", time.Since(s.start)).Msg("span failed")
		return
	}
	s.logger.Debug().Dur("duration", time.Since(s.start)).Msg("span completed")
}
