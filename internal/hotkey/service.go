package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"keypilot/internal/domain"
	"keypilot/internal/input"
	"keypilot/internal/jobs"
	"keypilot/internal/logger"
	"keypilot/internal/store"
)

// ActionHandler applies a hotkey action to the job orchestrator.
type ActionHandler interface {
	HandleAction(ctx context.Context, action domain.ActionDefinition) error
}

// Submitter queues work without blocking the caller.
type Submitter interface {
	Submit(name string, fn func()) error
}

// Publisher receives hotkey notifications.
type Publisher interface {
	Publish(event jobs.Event) jobs.Event
}

// Service owns the input mode machine, the registry and the persisted
// hotkey definitions.
type Service struct {
	registry *Registry
	capture  *input.Capture
	store    store.Store[domain.HotkeyDefinition]
	pool     Submitter
	actions  ActionHandler
	events   Publisher

	// mu serializes writers so the store and the registry agree.
	mu sync.Mutex
}

// NewService wires a Service. opts.OnMatch is overwritten.
func NewService(st store.Store[domain.HotkeyDefinition], pool Submitter, actions ActionHandler, events Publisher, opts input.Options) *Service {
	s := &Service{
		registry: NewRegistry(),
		store:    st,
		pool:     pool,
		actions:  actions,
		events:   events,
	}
	opts.OnMatch = s.onMatch
	s.capture = input.NewCapture(opts)
	return s
}

// Registry exposes the live registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Capture exposes the input mode machine.
func (s *Service) Capture() *input.Capture {
	return s.capture
}

// List returns the registered definitions.
func (s *Service) List() []domain.HotkeyDefinition {
	return s.registry.List()
}

// Register validates, persists and then publishes def.
func (s *Service) Register(ctx context.Context, def domain.HotkeyDefinition) (domain.HotkeyDefinition, error) {
	def.Name = strings.TrimSpace(def.Name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.registry.Check(def); err != nil {
		return domain.HotkeyDefinition{}, err
	}
	if err := s.store.Save(ctx, def); err != nil {
		return domain.HotkeyDefinition{}, fmt.Errorf("save hotkey: %w", err)
	}
	if err := s.registry.Register(def); err != nil {
		return domain.HotkeyDefinition{}, err
	}
	slog.InfoContext(ctx, "hotkey registered", "hotkey", def.Name, "active", def.Active)
	return def, nil
}

// Unregister removes a definition from the store and the registry.
func (s *Service) Unregister(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registry.Get(name); !ok {
		return fmt.Errorf("%w: %s", ErrHotkeyNotFound, name)
	}
	if err := s.store.Delete(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete hotkey: %w", err)
	}
	s.registry.Unregister(name)
	return nil
}

// UnregisterAll clears every definition.
func (s *Service) UnregisterAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.SaveAll(ctx, nil); err != nil {
		return fmt.Errorf("clear hotkeys: %w", err)
	}
	s.registry.UnregisterAll()
	return nil
}

// ReloadFromStore replaces the registry with the stored definitions. Stored
// definitions that can never fire are skipped.
func (s *Service) ReloadFromStore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defs, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load hotkeys: %w", err)
	}

	valid := defs[:0]
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			slog.WarnContext(ctx, "skipping stored hotkey", "hotkey", def.Name, "error", err)
			continue
		}
		valid = append(valid, def)
	}
	if err := s.registry.Replace(valid); err != nil {
		return err
	}
	slog.InfoContext(ctx, "hotkeys loaded", "count", len(valid))
	return nil
}

// RequestCapture waits for the next key combination the user presses.
func (s *Service) RequestCapture(ctx context.Context) (domain.Combo, error) {
	return s.capture.RequestCapture(ctx)
}

// StartRecording begins a macro recording.
func (s *Service) StartRecording() error {
	return s.capture.StartRecording()
}

// StopRecording ends the recording and returns its events.
func (s *Service) StopRecording() ([]domain.CapturedInputEvent, error) {
	return s.capture.StopRecording()
}

// Run processes OS input until ctx ends.
func (s *Service) Run(ctx context.Context, src input.Source) error {
	return s.capture.Run(ctx, src)
}

// Install subscribes to src without processing events yet.
func (s *Service) Install(ctx context.Context, src input.Source) (<-chan input.Event, error) {
	return s.capture.Install(ctx, src)
}

// Consume processes events from an installed subscription until ctx ends.
func (s *Service) Consume(ctx context.Context, events <-chan input.Event) error {
	return s.capture.Consume(ctx, events)
}

// onMatch runs on the hook goroutine and only queues work.
func (s *Service) onMatch(combo domain.Combo) {
	def, ok := s.registry.Match(combo)
	if !ok {
		return
	}

	err := s.pool.Submit("hotkey:"+def.Name, func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			Component: "keypilot.hotkey",
			Hotkey:    def.Name,
		})
		if s.events != nil {
			s.events.Publish(jobs.Event{
				Type:    jobs.EventTypeHotkeyFired,
				Hotkey:  def.Name,
				Job:     def.Action.Target(),
				Command: def.Action.Command,
			})
		}
		if err := s.actions.HandleAction(ctx, def.Action); err != nil {
			slog.WarnContext(ctx, "hotkey action not applied", "error", err)
		}
	})
	if err != nil {
		slog.Warn("hotkey dropped", "hotkey", def.Name, "error", err)
	}
}
