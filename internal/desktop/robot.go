// Package desktop drives the local screen, mouse and keyboard through robotgo.
package desktop

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/go-vgo/robotgo"

	"keypilot/internal/domain"
	"keypilot/internal/input/hookdev"
)

// Robot is the robotgo-backed desktop. Its methods are safe for use by one
// job at a time; robotgo itself is process-global.
type Robot struct{}

// NewRobot returns the desktop adapter.
func NewRobot() *Robot {
	return &Robot{}
}

// Capture grabs region, or the whole primary screen for an empty region.
func (r *Robot) Capture(ctx context.Context, region image.Rectangle) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var bit robotgo.CBitmap
	if region.Empty() {
		bit = robotgo.CaptureScreen()
	} else {
		bit = robotgo.CaptureScreen(region.Min.X, region.Min.Y, region.Dx(), region.Dy())
	}
	if bit == nil {
		return nil, fmt.Errorf("screen capture returned no bitmap")
	}
	defer robotgo.FreeBitmap(bit)

	img := robotgo.ToImage(bit)
	if img == nil {
		return nil, fmt.Errorf("convert screen capture")
	}
	return img, nil
}

// ScreenSize returns the primary screen dimensions.
func (r *Robot) ScreenSize() (int, int) {
	return robotgo.GetScreenSize()
}

// Move places the pointer.
func (r *Robot) Move(x, y int) {
	robotgo.Move(x, y)
}

// Location returns the pointer position.
func (r *Robot) Location() (int, int) {
	return robotgo.Location()
}

// Click clicks button at the current pointer position.
func (r *Robot) Click(button domain.MouseButton, double bool) {
	robotgo.Click(buttonName(button), double)
}

// MouseToggle presses or releases button.
func (r *Robot) MouseToggle(button domain.MouseButton, down bool) error {
	return robotgo.Toggle(buttonName(button), direction(down))
}

// KeyToggle presses or releases a key identified by its hook code.
func (r *Robot) KeyToggle(key domain.KeyCode, down bool) error {
	name := hookdev.KeyName(key)
	if name == "" {
		return fmt.Errorf("no key name for code 0x%04X", uint16(key))
	}
	return robotgo.KeyToggle(name, direction(down))
}

// ProcessRunning reports whether a process with the given name exists.
// Matching ignores case and an optional ".exe" suffix.
func (r *Robot) ProcessRunning(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	processes, err := robotgo.Process()
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}

	want := normalizeProcessName(name)
	for _, proc := range processes {
		if normalizeProcessName(proc.Name) == want {
			return true, nil
		}
	}
	return false, nil
}

func normalizeProcessName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".exe")
}

func buttonName(button domain.MouseButton) string {
	switch button {
	case domain.MouseButtonRight:
		return "right"
	case domain.MouseButtonMiddle:
		return "center"
	default:
		return "left"
	}
}

func direction(down bool) string {
	if down {
		return "down"
	}
	return "up"
}
