package domain

import (
	"fmt"
	"strings"
	"time"
)

// StepKind is the closed set of pipeline stage kinds.
type StepKind string

const (
	StepCaptureScreen  StepKind = "capture_screen"
	StepFindImage      StepKind = "find_image"
	StepDetect         StepKind = "detect"
	StepClick          StepKind = "click"
	StepPlayMacro      StepKind = "play_macro"
	StepRunProcess     StepKind = "run_process"
	StepRequireProcess StepKind = "require_process"
	StepRunJob         StepKind = "run_job"
	StepDelay          StepKind = "delay"
)

// StepKinds lists every kind in declaration order.
var StepKinds = []StepKind{
	StepCaptureScreen,
	StepFindImage,
	StepDetect,
	StepClick,
	StepPlayMacro,
	StepRunProcess,
	StepRequireProcess,
	StepRunJob,
	StepDelay,
}

// CaptureSettings selects the screen region to grab. A zero size grabs the
// whole primary screen.
type CaptureSettings struct {
	X      int `json:"x,omitempty"`
	Y      int `json:"y,omitempty"`
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// FindImageSettings configures template matching against the last frame.
// HaltOnMiss ends a repeating job when the template is not found.
type FindImageSettings struct {
	Template   string        `json:"template"`
	Threshold  float64       `json:"threshold"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	Interval   time.Duration `json:"interval,omitempty"`
	HaltOnMiss bool          `json:"haltOnMiss,omitempty"`
}

// DetectSettings configures the pluggable object detector.
type DetectSettings struct {
	Label         string  `json:"label"`
	MinConfidence float64 `json:"minConfidence"`
	HaltOnMiss    bool    `json:"haltOnMiss,omitempty"`
}

// ClickSettings clicks relative to the last detection, or at X/Y when Absolute.
type ClickSettings struct {
	Button   MouseButton `json:"button,omitempty"`
	Double   bool        `json:"double,omitempty"`
	Absolute bool        `json:"absolute,omitempty"`
	X        int         `json:"x,omitempty"`
	Y        int         `json:"y,omitempty"`
}

// MacroSettings replays a stored macro. Speed scales the recorded pacing.
type MacroSettings struct {
	Macro string  `json:"macro"`
	Speed float64 `json:"speed,omitempty"`
}

// ProcessSettings launches an external program.
type ProcessSettings struct {
	Command string        `json:"command"`
	Dir     string        `json:"dir,omitempty"`
	Wait    bool          `json:"wait,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// RequireProcessSettings gates the pass on a running process. With
// HaltOnMiss a missing process ends a repeating job instead of skipping one
// pass.
type RequireProcessSettings struct {
	Name       string `json:"name"`
	HaltOnMiss bool   `json:"haltOnMiss,omitempty"`
}

// RunJobSettings runs another, non-repeating job inline.
type RunJobSettings struct {
	Job string `json:"job"`
}

// DelaySettings pauses the pass.
type DelaySettings struct {
	Duration time.Duration `json:"duration"`
}

// JobStep is a tagged union: Kind selects which settings field is populated.
type JobStep struct {
	Kind           StepKind                `json:"kind"`
	Capture        *CaptureSettings        `json:"capture,omitempty"`
	FindImage      *FindImageSettings      `json:"findImage,omitempty"`
	Detect         *DetectSettings         `json:"detect,omitempty"`
	Click          *ClickSettings          `json:"click,omitempty"`
	Macro          *MacroSettings          `json:"macro,omitempty"`
	Process        *ProcessSettings        `json:"process,omitempty"`
	RequireProcess *RequireProcessSettings `json:"requireProcess,omitempty"`
	RunJob         *RunJobSettings         `json:"runJob,omitempty"`
	Delay          *DelaySettings          `json:"delay,omitempty"`
}

// Validate checks that exactly the settings of Kind are present.
func (s JobStep) Validate() error {
	set := map[StepKind]bool{
		StepCaptureScreen:  s.Capture != nil,
		StepFindImage:      s.FindImage != nil,
		StepDetect:         s.Detect != nil,
		StepClick:          s.Click != nil,
		StepPlayMacro:      s.Macro != nil,
		StepRunProcess:     s.Process != nil,
		StepRequireProcess: s.RequireProcess != nil,
		StepRunJob:         s.RunJob != nil,
		StepDelay:          s.Delay != nil,
	}
	present, known := set[s.Kind]
	if !known {
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	if !present {
		return fmt.Errorf("step %s has no settings", s.Kind)
	}
	for kind, ok := range set {
		if ok && kind != s.Kind {
			return fmt.Errorf("step %s carries %s settings", s.Kind, kind)
		}
	}
	return nil
}

// Job is a named automation sequence.
type Job struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Repeat    bool          `json:"repeat"`
	PassDelay time.Duration `json:"passDelay,omitempty"`
	RecordDir string        `json:"recordDir,omitempty"`
	Steps     []JobStep     `json:"steps"`
}

// StoreKey keys jobs by name.
func (j Job) StoreKey() string {
	return j.Name
}

// Validate checks the name and every step.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	for i, step := range j.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("job %q step %d: %w", j.Name, i, err)
		}
	}
	return nil
}
