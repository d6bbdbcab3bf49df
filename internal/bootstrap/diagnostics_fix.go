package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"keypilot/internal/diagnostics"
	"keypilot/internal/domain"
)

// InstallOrFixDiagnostic applies the remediation for one fixable diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	report, err := a.Core.FixDiagnostic(context.Background(), itemID)
	if report.GeneratedAt.IsZero() {
		return report, err
	}

	a.mu.Lock()
	a.diagnostics = report
	a.mu.Unlock()
	return report, err
}

// FixDiagnostic applies the remediation for one fixable item and returns the
// refreshed report.
func (c *Core) FixDiagnostic(ctx context.Context, itemID string) (domain.DiagnosticReport, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	var fixErr error
	switch {
	case id == diagnostics.IDDataDir:
		fixErr = c.checker.EnsureDataDir(c.Settings.DataDir)
	case strings.HasPrefix(id, diagnostics.IDHotkeyOrphan+":"):
		fixErr = c.disableHotkey(ctx, strings.TrimPrefix(id, diagnostics.IDHotkeyOrphan+":"))
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	report := c.Diagnose(ctx)
	if fixErr != nil {
		return report, fmt.Errorf("fix %s: %w", id, fixErr)
	}
	return report, nil
}

// disableHotkey keeps an orphaned hotkey stored but stops it from firing.
func (c *Core) disableHotkey(ctx context.Context, name string) error {
	def, err := c.Definitions.Hotkeys.LoadByKey(ctx, name)
	if err != nil {
		return fmt.Errorf("load hotkey %q: %w", name, err)
	}
	def.Active = false
	if _, err := c.Hotkeys.Register(ctx, def); err != nil {
		return fmt.Errorf("disable hotkey %q: %w", name, err)
	}
	return nil
}
