package store

import (
	"fmt"
	"path/filepath"

	"keypilot/internal/domain"
)

// Definitions bundles the three definition stores of one backend.
type Definitions struct {
	Hotkeys Store[domain.HotkeyDefinition]
	Jobs    Store[domain.Job]
	Macros  Store[domain.Macro]
	close   func() error
}

// Close releases backend resources.
func (d *Definitions) Close() error {
	if d == nil || d.close == nil {
		return nil
	}
	return d.close()
}

// Open selects the backend configured in settings.
func Open(settings domain.Settings) (*Definitions, error) {
	switch settings.StoreBackend {
	case domain.StoreBackendSQLite:
		db, err := OpenSQLite(filepath.Join(settings.DataDir, "keypilot.db"))
		if err != nil {
			return nil, err
		}
		return &Definitions{
			Hotkeys: NewSQLiteStore[domain.HotkeyDefinition](db, "hotkey"),
			Jobs:    NewSQLiteStore[domain.Job](db, "job"),
			Macros:  NewSQLiteStore[domain.Macro](db, "macro"),
			close:   db.Close,
		}, nil
	case domain.StoreBackendJSON, "":
		return &Definitions{
			Hotkeys: NewJSONStore[domain.HotkeyDefinition](filepath.Join(settings.DataDir, "hotkeys.json")),
			Jobs:    NewJSONStore[domain.Job](filepath.Join(settings.DataDir, "jobs.json")),
			Macros:  NewJSONStore[domain.Macro](filepath.Join(settings.DataDir, "macros.json")),
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", settings.StoreBackend)
	}
}
