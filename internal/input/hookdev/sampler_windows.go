//go:build windows

package hookdev

import (
	"golang.org/x/sys/windows"

	"keypilot/internal/domain"
	"keypilot/internal/input"
)

var procGetAsyncKeyState = windows.NewLazySystemDLL("user32.dll").NewProc("GetAsyncKeyState")

const (
	vkShift   = 0x10
	vkControl = 0x11
	vkMenu    = 0x12
	vkLWin    = 0x5B
	vkRWin    = 0x5C
)

// LiveModifiers reads the modifier keys from the OS at match time, so a
// modifier transition the hook missed cannot skew matching.
func LiveModifiers() input.ModifierSampler {
	if procGetAsyncKeyState.Find() != nil {
		return input.EventModifiers
	}
	return input.ModifierSamplerFunc(func(input.Event) domain.Modifiers {
		var mods domain.Modifiers
		if keyDown(vkControl) {
			mods |= domain.ModCtrl
		}
		if keyDown(vkShift) {
			mods |= domain.ModShift
		}
		if keyDown(vkMenu) {
			mods |= domain.ModAlt
		}
		if keyDown(vkLWin) || keyDown(vkRWin) {
			mods |= domain.ModMeta
		}
		return mods
	})
}

func keyDown(vk uintptr) bool {
	state, _, _ := procGetAsyncKeyState.Call(vk)
	return state&0x8000 != 0
}
