package httpapi_test

import (
	"context"

	"keypilot/internal/domain"
	"keypilot/internal/jobs"
)

type mockOrchestrator struct {
	startFn  func(name string) error
	stopFn   func(name string) bool
	toggleFn func(name string) error
	running  []domain.RunInfo
	recent   []jobs.RunRecord
}

func (m *mockOrchestrator) Start(name string) error {
	if m.startFn != nil {
		return m.startFn(name)
	}
	return nil
}

func (m *mockOrchestrator) Stop(name string) bool {
	if m.stopFn != nil {
		return m.stopFn(name)
	}
	return false
}

func (m *mockOrchestrator) Toggle(name string) error {
	if m.toggleFn != nil {
		return m.toggleFn(name)
	}
	return nil
}

func (m *mockOrchestrator) Running() []domain.RunInfo { return m.running }

func (m *mockOrchestrator) Recent() []jobs.RunRecord { return m.recent }

type mockCatalog struct {
	jobs   []domain.Job
	macros []domain.Macro
}

func (m *mockCatalog) Jobs() []domain.Job { return m.jobs }

func (m *mockCatalog) Macros() []domain.Macro { return m.macros }

type mockHotkeys struct {
	defs []domain.HotkeyDefinition
}

func (m *mockHotkeys) List() []domain.HotkeyDefinition { return m.defs }

type mockDiagnoser struct {
	report domain.DiagnosticReport
}

func (m *mockDiagnoser) Diagnose(context.Context) domain.DiagnosticReport { return m.report }
