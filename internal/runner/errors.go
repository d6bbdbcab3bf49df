package runner

import (
	"errors"
	"fmt"

	"keypilot/internal/domain"
)

// ErrConfig matches every *ConfigError through errors.Is.
var ErrConfig = errors.New("invalid job configuration")

// ConfigError reports a job or step that can never run as configured.
type ConfigError struct {
	Job    string
	Index  int
	Kind   domain.StepKind
	Reason string
}

// Configf builds a ConfigError; the executor fills in the step position.
func Configf(format string, args ...any) *ConfigError {
	return &ConfigError{Index: -1, Reason: fmt.Sprintf(format, args...)}
}

// Error formats the failure with its position when known.
func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	if e.Job == "" {
		return e.Reason
	}
	if e.Index < 0 {
		return fmt.Sprintf("job %q: %s", e.Job, e.Reason)
	}
	return fmt.Sprintf("job %q step %d (%s): %s", e.Job, e.Index, e.Kind, e.Reason)
}

// Is makes errors.Is(err, ErrConfig) hold.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// StepError is a fault raised by one step. The run stops at the failing step.
type StepError struct {
	Job   string          `json:"job"`
	Index int             `json:"index"`
	Kind  domain.StepKind `json:"kind"`
	Panic any             `json:"-"`
	Err   error           `json:"-"`
}

// Error formats step failures for logs and UI.
func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	if e.Panic != nil {
		return fmt.Sprintf("job %q step %d (%s) panicked: %v", e.Job, e.Index, e.Kind, e.Panic)
	}
	return fmt.Sprintf("job %q step %d (%s): %v", e.Job, e.Index, e.Kind, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
