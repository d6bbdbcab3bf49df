package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidHotkeyDefinition is returned for definitions that can never fire.
var ErrInvalidHotkeyDefinition = errors.New("invalid hotkey definition")

// Command is the lifecycle transition a hotkey requests.
type Command string

const (
	CommandStart  Command = "start"
	CommandStop   Command = "stop"
	CommandToggle Command = "toggle"
)

// ActionDefinition is what a hotkey does. JobID is preferred over JobName
// when both are set.
type ActionDefinition struct {
	JobID   string  `json:"jobId,omitempty"`
	JobName string  `json:"jobName,omitempty"`
	Command Command `json:"command"`
}

// Target returns a printable reference to the job.
func (a ActionDefinition) Target() string {
	if a.JobName != "" {
		return a.JobName
	}
	return a.JobID
}

// HotkeyDefinition binds a key combination to an action.
type HotkeyDefinition struct {
	Name      string           `json:"name"`
	Modifiers Modifiers        `json:"modifiers"`
	Key       KeyCode          `json:"key"`
	Action    ActionDefinition `json:"action"`
	Active    bool             `json:"active"`
}

// StoreKey keys hotkeys by name.
func (h HotkeyDefinition) StoreKey() string {
	return h.Name
}

// Combo returns the trigger combination.
func (h HotkeyDefinition) Combo() Combo {
	return Combo{Modifiers: h.Modifiers, Key: h.Key}
}

// Validate rejects unnamed, modifier-only and action-less definitions.
func (h HotkeyDefinition) Validate() error {
	if strings.TrimSpace(h.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidHotkeyDefinition)
	}
	if !h.Combo().Valid() {
		return fmt.Errorf("%w: %q needs a non-modifier key", ErrInvalidHotkeyDefinition, h.Name)
	}
	if h.Action.JobID == "" && h.Action.JobName == "" {
		return fmt.Errorf("%w: %q has no target job", ErrInvalidHotkeyDefinition, h.Name)
	}
	switch h.Action.Command {
	case CommandStart, CommandStop, CommandToggle:
	default:
		return fmt.Errorf("%w: %q has unknown command %q", ErrInvalidHotkeyDefinition, h.Name, h.Action.Command)
	}
	return nil
}
