// Package hotkey matches key combinations against the registered hotkey
// definitions and hands matches to the job dispatcher.
package hotkey

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"sync/atomic"

	"keypilot/internal/domain"
)

var (
	// ErrComboInUse is returned when another active hotkey owns the combination.
	ErrComboInUse = errors.New("key combination already bound")
	// ErrHotkeyNotFound is returned for unknown hotkey names.
	ErrHotkeyNotFound = errors.New("hotkey not found")
)

type snapshot struct {
	byName  map[string]domain.HotkeyDefinition
	byCombo map[domain.Combo]domain.HotkeyDefinition
}

// Registry holds an immutable snapshot of hotkey definitions. Match is
// lock-free; writers serialize and publish a fresh snapshot.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{
		byName:  map[string]domain.HotkeyDefinition{},
		byCombo: map[domain.Combo]domain.HotkeyDefinition{},
	})
	return r
}

// Match returns the active definition bound to combo.
func (r *Registry) Match(combo domain.Combo) (domain.HotkeyDefinition, bool) {
	def, ok := r.snap.Load().byCombo[combo]
	return def, ok
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (domain.HotkeyDefinition, bool) {
	def, ok := r.snap.Load().byName[name]
	return def, ok
}

// List returns every definition ordered by name.
func (r *Registry) List() []domain.HotkeyDefinition {
	snap := r.snap.Load()
	out := make([]domain.HotkeyDefinition, 0, len(snap.byName))
	for _, def := range snap.byName {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Check reports whether def could be registered now.
func (r *Registry) Check(def domain.HotkeyDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return conflict(r.snap.Load(), def)
}

// Register adds or replaces the definition with def's name.
func (r *Registry) Register(def domain.HotkeyDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if err := conflict(cur, def); err != nil {
		return err
	}

	byName := maps.Clone(cur.byName)
	byName[def.Name] = def
	r.snap.Store(build(byName))
	return nil
}

// Unregister removes a definition. It reports whether one was removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if _, ok := cur.byName[name]; !ok {
		return false
	}
	byName := maps.Clone(cur.byName)
	delete(byName, name)
	r.snap.Store(build(byName))
	return true
}

// UnregisterAll empties the registry.
func (r *Registry) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Store(build(map[string]domain.HotkeyDefinition{}))
}

// Replace swaps in a whole new set. Invalid definitions reject the set. When
// active definitions share a combination the first by name keeps it and the
// rest stay registered but never match.
func (r *Registry) Replace(defs []domain.HotkeyDefinition) error {
	byName := make(map[string]domain.HotkeyDefinition, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
		if _, dup := byName[def.Name]; dup {
			return fmt.Errorf("%w: duplicate name %q", domain.ErrInvalidHotkeyDefinition, def.Name)
		}
		byName[def.Name] = def
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Store(build(byName))
	return nil
}

func conflict(snap *snapshot, def domain.HotkeyDefinition) error {
	if !def.Active {
		return nil
	}
	owner, ok := snap.byCombo[def.Combo()]
	if ok && owner.Name != def.Name {
		return fmt.Errorf("%w: %q already uses it", ErrComboInUse, owner.Name)
	}
	return nil
}

func build(byName map[string]domain.HotkeyDefinition) *snapshot {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	byCombo := make(map[domain.Combo]domain.HotkeyDefinition, len(byName))
	for _, name := range names {
		def := byName[name]
		if !def.Active {
			continue
		}
		if owner, taken := byCombo[def.Combo()]; taken {
			slog.Warn("hotkey shadowed by another with the same combination", "hotkey", name, "owner", owner.Name)
			continue
		}
		byCombo[def.Combo()] = def
	}
	return &snapshot{byName: byName, byCombo: byCombo}
}
