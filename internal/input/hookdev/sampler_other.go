//go:build !windows

package hookdev

import "keypilot/internal/input"

// LiveModifiers falls back to the mask reported with each hook event.
func LiveModifiers() input.ModifierSampler {
	return input.EventModifiers
}
