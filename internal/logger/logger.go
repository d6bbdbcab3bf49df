package logger

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"

	"keypilot/internal/domain"
)

const serviceName = "keypilot"

// Setup installs the default slog logger. Production writes JSON, other
// environments text; with exportEnabled records go to the OTel log pipeline.
func Setup(settings domain.Settings, exportEnabled bool) {
	opts := &slog.HandlerOptions{Level: parseLevel(settings.LogLevel)}

	var handler slog.Handler
	switch {
	case settings.Env == "production" && exportEnabled:
		handler = otelslog.NewHandler(
			serviceName,
			otelslog.WithLoggerProvider(global.GetLoggerProvider()),
		)
	case settings.Env == "production":
		handler = NewTraceHandler(slog.NewJSONHandler(os.Stdout, opts))
	default:
		handler = NewTraceHandler(slog.NewTextHandler(os.Stdout, opts))
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TraceHandler adds span identifiers and context log fields to records.
type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	fields := GetLogFields(ctx)
	if fields.Component != "" {
		r.AddAttrs(slog.String("component", fields.Component))
	}
	if fields.Job != "" {
		r.AddAttrs(slog.String("job", fields.Job))
	}
	if fields.RunID != "" {
		r.AddAttrs(slog.String("run_id", fields.RunID))
	}
	if fields.Hotkey != "" {
		r.AddAttrs(slog.String("hotkey", fields.Hotkey))
	}
	if fields.StepIndex != nil {
		r.AddAttrs(slog.Int("step_index", *fields.StepIndex))
	}
	if fields.StepKind != "" {
		r.AddAttrs(slog.String("step_kind", fields.StepKind))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}
