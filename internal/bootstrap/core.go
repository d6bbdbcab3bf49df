package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"keypilot/internal/catalog"
	"keypilot/internal/config"
	"keypilot/internal/diagnostics"
	"keypilot/internal/dispatch"
	"keypilot/internal/domain"
	"keypilot/internal/hotkey"
	"keypilot/internal/input"
	"keypilot/internal/input/hookdev"
	"keypilot/internal/jobs"
	"keypilot/internal/logger"
	"keypilot/internal/runner"
	"keypilot/internal/steps"
	"keypilot/internal/store"
	"keypilot/internal/telemetry"
)

const (
	eventBufferSize = 1000
	historySize     = 200
)

// Desktop is the OS automation surface the step handlers drive.
type Desktop interface {
	steps.Screen
	steps.Mouse
	steps.Keyboard
	steps.Processes
}

// Core is the engine shared by the desktop app, the CLI and the HTTP API.
type Core struct {
	Settings     domain.Settings
	Definitions  *store.Definitions
	Catalog      *catalog.Catalog
	Events       *jobs.EventBus
	History      *jobs.History
	Executor     *runner.Executor
	Orchestrator *jobs.Orchestrator
	Pool         *dispatch.Pool
	Hotkeys      *hotkey.Service

	checker   *diagnostics.Checker
	newSource func() input.Source
	now       func() time.Time
}

// LoadSettings reads persisted settings, overlays the environment and
// installs logging and telemetry for the process.
func LoadSettings(ctx context.Context, st config.Store) (domain.Settings, *telemetry.Telemetry, error) {
	settings, err := st.Load()
	if err != nil {
		return domain.Settings{}, nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.ApplyEnv(settings)

	tel, err := telemetry.Setup(ctx, config.LoadOTel())
	if err != nil {
		slog.WarnContext(ctx, "otel setup failed", "error", err)
	}
	logger.Setup(settings, tel != nil)
	return settings, tel, nil
}

// NewCore opens the definition stores and wires every component.
func NewCore(ctx context.Context, settings domain.Settings, desk Desktop) (*Core, error) {
	settings = config.Normalize(settings)
	checker := diagnostics.NewChecker()
	if err := checker.EnsureDataDir(settings.DataDir); err != nil {
		return nil, fmt.Errorf("prepare data dir: %w", err)
	}

	defs, err := store.Open(settings)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cat := catalog.New(defs.Jobs, defs.Macros)
	if err := cat.Reload(ctx); err != nil {
		_ = defs.Close()
		return nil, err
	}

	events := jobs.NewEventBus(eventBufferSize)
	history := jobs.NewHistory(historySize)

	var executor *runner.Executor
	handlers := steps.Defaults(steps.Deps{
		Screen:    desk,
		Mouse:     desk,
		Keyboard:  desk,
		Processes: desk,
		Macros:    cat,
		Nested: steps.NestedFunc(func(ctx context.Context, target string) error {
			return executor.RunNested(ctx, target)
		}),
	})
	executor = runner.NewExecutor(cat, handlers)

	orchestrator := jobs.NewOrchestrator(cat, executor, events, history)
	pool := dispatch.NewPool(settings.Workers, settings.QueueSize)
	hotkeys := hotkey.NewService(defs.Hotkeys, pool, orchestrator, events, input.Options{
		MoveThreshold: settings.MoveThreshold,
		Sampler:       hookdev.LiveModifiers(),
	})
	if err := hotkeys.ReloadFromStore(ctx); err != nil {
		_ = defs.Close()
		return nil, err
	}

	slog.InfoContext(ctx, "keypilot core ready",
		"data_dir", settings.DataDir,
		"store", settings.StoreBackend,
		"jobs", len(cat.Jobs()),
		"hotkeys", len(hotkeys.List()),
	)

	return &Core{
		Settings:     settings,
		Definitions:  defs,
		Catalog:      cat,
		Events:       events,
		History:      history,
		Executor:     executor,
		Orchestrator: orchestrator,
		Pool:         pool,
		Hotkeys:      hotkeys,
		checker:      checker,
		newSource:    func() input.Source { return hookdev.NewSource() },
		now:          time.Now,
	}, nil
}

// RunHook feeds OS input into the hotkey service until ctx ends.
func (c *Core) RunHook(ctx context.Context) error {
	hook, err := c.InstallHook(ctx)
	if err != nil {
		return err
	}
	return hook.Run(ctx)
}

// Hook is an installed input subscription that has not been consumed yet.
type Hook struct {
	events  <-chan input.Event
	service *hotkey.Service
}

// Run processes hook events until ctx ends or the stream fails.
func (h *Hook) Run(ctx context.Context) error {
	return h.service.Consume(ctx, h.events)
}

// InstallHook subscribes to OS input. The subscription lives as long as ctx.
func (c *Core) InstallHook(ctx context.Context) (*Hook, error) {
	events, err := c.Hotkeys.Install(ctx, c.newSource())
	if err != nil {
		return nil, err
	}
	return &Hook{events: events, service: c.Hotkeys}, nil
}

// Diagnose checks the environment and every stored definition, including
// hotkeys the registry skipped.
func (c *Core) Diagnose(ctx context.Context) domain.DiagnosticReport {
	stored, err := c.Definitions.Hotkeys.LoadAll(ctx)
	if err != nil {
		slog.WarnContext(ctx, "diagnostics fell back to registered hotkeys", "error", err)
		stored = c.Hotkeys.List()
	}
	return c.checker.Run(c.Settings, diagnostics.Definitions{
		Hotkeys: stored,
		Jobs:    c.Catalog.Jobs(),
		Macros:  c.Catalog.Macros(),
	})
}

// SaveHotkey registers def, replacing any definition with the same name.
func (c *Core) SaveHotkey(ctx context.Context, def domain.HotkeyDefinition) (domain.HotkeyDefinition, error) {
	return c.Hotkeys.Register(ctx, def)
}

// DeleteJob stops any active run of the job and removes it.
func (c *Core) DeleteJob(ctx context.Context, name string) error {
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.Orchestrator.StopAndWait(waitCtx, name); err != nil {
		slog.WarnContext(ctx, "job still stopping during delete", "job", name, "error", err)
	}
	return c.Catalog.DeleteJob(ctx, name)
}

// CaptureHotkey waits for the next combination the user presses.
func (c *Core) CaptureHotkey(ctx context.Context) (domain.Combo, string, error) {
	combo, err := c.Hotkeys.RequestCapture(ctx)
	if err != nil {
		return domain.Combo{}, "", err
	}
	return combo, hookdev.FormatCombo(combo), nil
}

// StartRecording begins a macro recording.
func (c *Core) StartRecording() error {
	return c.Hotkeys.StartRecording()
}

// StopRecording ends the recording and stores it as macro name.
func (c *Core) StopRecording(ctx context.Context, name string) (domain.Macro, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		// Still leave recording mode so the hook returns to hotkey matching.
		_, _ = c.Hotkeys.StopRecording()
		return domain.Macro{}, fmt.Errorf("macro name is required")
	}
	events, err := c.Hotkeys.StopRecording()
	if err != nil {
		return domain.Macro{}, err
	}
	macro := domain.Macro{Name: name, Events: events, RecordedAt: c.now().UTC()}
	if err := c.Catalog.SaveMacro(ctx, macro); err != nil {
		return domain.Macro{}, err
	}
	slog.InfoContext(ctx, "macro recorded", "macro", name, "events", len(events), "duration", macro.Duration())
	return macro, nil
}

// Close cancels active runs, drains the pool and releases the stores.
func (c *Core) Close(ctx context.Context) error {
	var errs []error
	if err := c.Orchestrator.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
	}
	if err := c.Pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pool shutdown: %w", err))
	}
	if err := c.Definitions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// openDataDir makes sure the directory exists before it is opened in a file
// manager.
func openDataDir(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		if diagnostics.IsNotExist(err) {
			return fmt.Errorf("data dir %s does not exist, run the data directory fix first", dir)
		}
		return fmt.Errorf("resolve data dir: %w", err)
	}
	return openInFileManager(dir)
}
