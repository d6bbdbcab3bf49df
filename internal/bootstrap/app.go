package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"keypilot/internal/config"
	"keypilot/internal/desktop"
	"keypilot/internal/domain"
	"keypilot/internal/httpapi"
	"keypilot/internal/jobs"
	"keypilot/internal/telemetry"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

const (
	eventName           = "keypilot:event"
	captureTimeout      = 15 * time.Second
	shutdownGracePeriod = 5 * time.Second
)

var templateDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Images",
		Pattern:     "*.png;*.jpg;*.jpeg;*.gif",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App binds the core to the desktop UI and pushes notifications to it.
type App struct {
	Core      *Core
	Store     config.Store
	telemetry *telemetry.Telemetry
	assets    fs.FS

	mu          sync.Mutex
	settings    domain.Settings
	diagnostics domain.DiagnosticReport
	runtimeCtx  context.Context
	runCtx      context.Context
	stop        context.CancelFunc
	hook        *Hook
	api         *httpapi.Server
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	path, err := config.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("resolve settings path: %w", err)
	}
	st := config.NewJSONStore(path)

	ctx := context.Background()
	settings, tel, err := LoadSettings(ctx, st)
	if err != nil {
		return nil, err
	}

	core, err := NewCore(ctx, settings, desktop.NewRobot())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	app := newApp(core, st)
	app.telemetry = tel
	app.assets = assets
	return app, nil
}

func newApp(core *Core, st config.Store) *App {
	return &App{
		Core:        core,
		Store:       st,
		settings:    core.Settings,
		diagnostics: core.Diagnose(context.Background()),
	}
}

// Run installs the input hook, then starts the Wails desktop application and
// binds backend methods. Without a hook the application does not start.
func (a *App) Run() error {
	if err := a.installHook(); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "keypilot",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// installHook subscribes to OS input ahead of the window so a missing hook
// fails startup.
func (a *App) installHook() error {
	runCtx, stop := context.WithCancel(context.Background())
	hook, err := a.Core.InstallHook(runCtx)
	if err != nil {
		stop()
		return fmt.Errorf("install input hook: %w", err)
	}

	a.mu.Lock()
	a.runCtx, a.stop, a.hook = runCtx, stop, hook
	a.mu.Unlock()
	return nil
}

// Startup stores the Wails runtime context and starts consuming the input
// hook, the event forwarder and the optional HTTP API. The application quits
// when the hook stream fails.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	installed := a.hook != nil
	a.mu.Unlock()
	if !installed {
		if err := a.installHook(); err != nil {
			slog.ErrorContext(ctx, "input hook unavailable", "error", err)
			wailsruntime.Quit(ctx)
			return
		}
	}

	a.mu.Lock()
	a.runtimeCtx = ctx
	runCtx, hook := a.runCtx, a.hook
	a.mu.Unlock()

	go a.forwardEvents(runCtx)
	go func() {
		if err := hook.Run(runCtx); err != nil {
			slog.ErrorContext(runCtx, "input hook failed", "error", err)
			wailsruntime.Quit(ctx)
		}
	}()

	if addr := a.Core.Settings.HTTPAddr; addr != "" {
		api := NewAPIServer(a.Core)
		if _, err := api.Start(runCtx); err != nil {
			slog.ErrorContext(runCtx, "http api not started", "addr", addr, "error", err)
			return
		}
		a.mu.Lock()
		a.api = api
		a.mu.Unlock()
	}
}

// Shutdown stops the hook, the API and every active run.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	stop, api := a.stop, a.api
	a.runtimeCtx, a.runCtx, a.hook = nil, nil, nil
	a.stop, a.api = nil, nil
	a.mu.Unlock()

	if stop != nil {
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if api != nil {
		if err := api.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "http api shutdown", "error", err)
		}
	}
	if err := a.Core.Close(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "core shutdown", "error", err)
	}
	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
	}
}

// forwardEvents pushes bus events to the UI until ctx ends.
func (a *App) forwardEvents(ctx context.Context) {
	ch, unsubscribe := a.Core.Events.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if rt := a.currentRuntime(); rt != nil {
				wailsruntime.EventsEmit(rt, eventName, ev)
			}
		}
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diagnostics
}

// RefreshDiagnostics reruns every check.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	report := a.Core.Diagnose(context.Background())
	a.mu.Lock()
	a.diagnostics = report
	a.mu.Unlock()
	return report
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings. Store, pool and hook
// settings apply on the next launch.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.settings = normalized
	a.mu.Unlock()

	return normalized, nil
}

// ListJobs returns stored jobs ordered by name.
func (a *App) ListJobs() []domain.Job {
	return a.Core.Catalog.Jobs()
}

// SaveJob creates or replaces a job.
func (a *App) SaveJob(job domain.Job) (domain.Job, error) {
	return a.Core.Catalog.SaveJob(context.Background(), job)
}

// DeleteJob stops and removes a job.
func (a *App) DeleteJob(name string) error {
	return a.Core.DeleteJob(context.Background(), name)
}

// ListMacros returns stored macros ordered by name.
func (a *App) ListMacros() []domain.Macro {
	return a.Core.Catalog.Macros()
}

// DeleteMacro removes a macro.
func (a *App) DeleteMacro(name string) error {
	return a.Core.Catalog.DeleteMacro(context.Background(), name)
}

// ListHotkeys returns registered hotkeys ordered by name.
func (a *App) ListHotkeys() []domain.HotkeyDefinition {
	return a.Core.Hotkeys.List()
}

// SaveHotkey registers or replaces a hotkey.
func (a *App) SaveHotkey(def domain.HotkeyDefinition) (domain.HotkeyDefinition, error) {
	return a.Core.SaveHotkey(context.Background(), def)
}

// DeleteHotkey removes a hotkey.
func (a *App) DeleteHotkey(name string) error {
	return a.Core.Hotkeys.Unregister(context.Background(), name)
}

// CapturedCombo is a combination pressed during capture with its label.
type CapturedCombo struct {
	Combo domain.Combo `json:"combo"`
	Label string       `json:"label"`
}

// CaptureHotkey waits for the user to press a combination.
func (a *App) CaptureHotkey() (CapturedCombo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	defer cancel()
	combo, label, err := a.Core.CaptureHotkey(ctx)
	if err != nil {
		return CapturedCombo{}, err
	}
	return CapturedCombo{Combo: combo, Label: label}, nil
}

// StartRecording begins recording a macro.
func (a *App) StartRecording() error {
	return a.Core.StartRecording()
}

// StopRecording ends the recording and stores it under name.
func (a *App) StopRecording(name string) (domain.Macro, error) {
	return a.Core.StopRecording(context.Background(), name)
}

// StartJob launches a job by name.
func (a *App) StartJob(name string) error {
	return a.Core.Orchestrator.Start(name)
}

// StopJob cancels the active run of a job. It reports whether one was found.
func (a *App) StopJob(name string) bool {
	return a.Core.Orchestrator.Stop(name)
}

// ToggleJob stops a running job or starts an idle one.
func (a *App) ToggleJob(name string) error {
	return a.Core.Orchestrator.Toggle(name)
}

// RunningJobs lists active runs.
func (a *App) RunningJobs() []domain.RunInfo {
	return a.Core.Orchestrator.Running()
}

// RecentRuns lists run history, newest first.
func (a *App) RecentRuns() []jobs.RunRecord {
	return a.Core.Orchestrator.Recent()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.Core.Events.Since(sinceSeq)
}

// PickTemplateFile opens a native file dialog for find_image templates.
func (a *App) PickTemplateFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select template image",
		Filters: templateDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickDirectory opens a native directory picker for frame recordings and
// process working directories.
func (a *App) PickDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenDataFolder opens the data directory in the file manager.
func (a *App) OpenDataFolder() error {
	return openDataDir(a.Core.Settings.DataDir)
}

func (a *App) currentRuntime() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runtimeCtx
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	ctx := a.currentRuntime()
	if ctx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return ctx, nil
}

// NewAPIServer builds the HTTP control API over the core.
func NewAPIServer(core *Core) *httpapi.Server {
	otelCfg := config.LoadOTel()
	handler := httpapi.NewHandler(core.Orchestrator, core.Catalog, core.Hotkeys, core.Events, core)
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{
		ServiceName:  otelCfg.ServiceName,
		OTelEnabled:  otelCfg.Enabled(),
		IsProduction: core.Settings.Env == "production",
	})
	return httpapi.NewServer(core.Settings.HTTPAddr, router)
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
