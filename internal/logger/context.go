package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are structured fields added to every log record written with a
// context that carries them.
type LogFields struct {
	Component string // e.g. "keypilot.jobs.orchestrator"
	Job       string
	RunID     string
	Hotkey    string
	StepIndex *int
	StepKind  string
}

// WithLogFields enriches ctx. Newer non-empty values win over existing ones.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from ctx, or the zero value.
func GetLogFields(ctx context.Context) LogFields {
	if ctx == nil {
		return LogFields{}
	}
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.Component != "" {
		result.Component = next.Component
	}
	if next.Job != "" {
		result.Job = next.Job
	}
	if next.RunID != "" {
		result.RunID = next.RunID
	}
	if next.Hotkey != "" {
		result.Hotkey = next.Hotkey
	}
	if next.StepIndex != nil {
		result.StepIndex = next.StepIndex
	}
	if next.StepKind != "" {
		result.StepKind = next.StepKind
	}

	return result
}

// Ptr returns a pointer to v, for inline LogFields literals.
func Ptr[T any](v T) *T {
	return &v
}
