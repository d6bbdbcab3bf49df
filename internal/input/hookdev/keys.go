package hookdev

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"

	"keypilot/internal/domain"
)

var modifierKeyNames = map[domain.KeyCode]string{
	domain.KeyShiftL:   "shift",
	domain.KeyShiftR:   "rshift",
	domain.KeyControlL: "ctrl",
	domain.KeyControlR: "rctrl",
	domain.KeyAltL:     "alt",
	domain.KeyAltR:     "ralt",
	domain.KeyMetaL:    "cmd",
	domain.KeyMetaR:    "rcmd",
}

var modifierTokens = map[string]domain.Modifiers{
	"ctrl":    domain.ModCtrl,
	"control": domain.ModCtrl,
	"shift":   domain.ModShift,
	"alt":     domain.ModAlt,
	"option":  domain.ModAlt,
	"meta":    domain.ModMeta,
	"cmd":     domain.ModMeta,
	"command": domain.ModMeta,
	"super":   domain.ModMeta,
	"win":     domain.ModMeta,
}

var (
	namesOnce sync.Once
	keyNames  map[domain.KeyCode]string
)

// KeyName returns the canonical lowercase name of a key code, or "" when the
// code is unknown. Names follow the gohook key table, which robotgo accepts.
func KeyName(code domain.KeyCode) string {
	if name, ok := modifierKeyNames[code]; ok {
		return name
	}
	namesOnce.Do(buildKeyNames)
	return keyNames[code]
}

// KeyCodeOf resolves a key name.
func KeyCodeOf(name string) (domain.KeyCode, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	code, ok := hook.Keycode[name]
	if !ok || code == 0 {
		return 0, false
	}
	return domain.KeyCode(code), true
}

// ParseBinding parses text such as "Ctrl+Shift+F5" into a combination.
func ParseBinding(text string) (domain.Combo, error) {
	var combo domain.Combo
	parts := strings.Split(text, "+")
	for i, part := range parts {
		token := strings.ToLower(strings.TrimSpace(part))
		if token == "" {
			return domain.Combo{}, fmt.Errorf("empty key in binding %q", text)
		}
		if mod, ok := modifierTokens[token]; ok && i < len(parts)-1 {
			combo.Modifiers |= mod
			continue
		}
		if i != len(parts)-1 {
			return domain.Combo{}, fmt.Errorf("unknown modifier %q in binding %q", part, text)
		}
		code, ok := KeyCodeOf(token)
		if !ok {
			return domain.Combo{}, fmt.Errorf("unknown key %q in binding %q", part, text)
		}
		combo.Key = code
	}
	if !combo.Valid() {
		return domain.Combo{}, fmt.Errorf("%w: binding %q has no primary key", domain.ErrInvalidHotkeyDefinition, text)
	}
	return combo, nil
}

// FormatCombo renders a combination as "Ctrl+Shift+F5".
func FormatCombo(c domain.Combo) string {
	name := KeyName(c.Key)
	if name == "" {
		name = fmt.Sprintf("0x%04X", uint16(c.Key))
	} else {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	if mods := c.Modifiers.String(); mods != "" {
		return mods + "+" + name
	}
	return name
}

func buildKeyNames() {
	names := make([]string, 0, len(hook.Keycode))
	for name := range hook.Keycode {
		names = append(names, name)
	}
	// Shortest alias wins, ties broken alphabetically.
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})

	keyNames = make(map[domain.KeyCode]string, len(names))
	for _, name := range names {
		code := domain.KeyCode(hook.Keycode[name])
		if _, taken := keyNames[code]; !taken && code != 0 {
			keyNames[code] = name
		}
	}
}
