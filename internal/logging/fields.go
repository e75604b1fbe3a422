package logging

import (
	"context"
	"log/slog"

	"avsync/internal/services"
)

// Structured logging keys shared by every component.
const (
	FieldComponent     = "component"
	FieldStage         = "stage"
	FieldReference     = "reference"
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type" // filterable event kind
	FieldErrorHint     = "error_hint" // next step for the operator
	FieldImpact        = "impact"     // consequence of a warning
)

// ContextFields turns the correlation scope carried by ctx into attributes.
func ContextFields(ctx context.Context) []slog.Attr {
	scope := services.ScopeFromContext(ctx)
	var fields []slog.Attr
	if scope.Reference > 0 {
		fields = append(fields, slog.Int(FieldReference, scope.Reference))
	}
	if scope.Stage != "" {
		fields = append(fields, slog.String(FieldStage, scope.Stage))
	}
	if scope.RequestID != "" {
		fields = append(fields, slog.String(FieldCorrelationID, scope.RequestID))
	}
	return fields
}

// WithContext returns logger tagged with the scope carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(Args(fields...)...)
	}
	return logger
}
