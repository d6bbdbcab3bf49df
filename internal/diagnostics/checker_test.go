package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"keypilot/internal/domain"
)

func newTestChecker(lookPath func(string) (string, error)) *Checker {
	return NewCheckerForTests(lookPath, os.Stat, os.MkdirAll, os.CreateTemp, os.Remove)
}

func onPath(name string) (string, error) {
	return "/usr/local/bin/" + name, nil
}

func delayStep() domain.JobStep {
	return domain.JobStep{Kind: domain.StepDelay, Delay: &domain.DelaySettings{}}
}

func runJob(target string) domain.JobStep {
	return domain.JobStep{Kind: domain.StepRunJob, RunJob: &domain.RunJobSettings{Job: target}}
}

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	tpl := filepath.Join(root, "chest.png")
	if err := os.WriteFile(tpl, []byte("png"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	defs := Definitions{
		Jobs: []domain.Job{
			{ID: "1", Name: "farm", Steps: []domain.JobStep{
				{Kind: domain.StepFindImage, FindImage: &domain.FindImageSettings{Template: tpl, Threshold: 0.9}},
				{Kind: domain.StepPlayMacro, Macro: &domain.MacroSettings{Macro: "loot"}},
				{Kind: domain.StepRunProcess, Process: &domain.ProcessSettings{Command: "notify-send done"}},
				runJob("sell"),
			}},
			{ID: "2", Name: "sell", Steps: []domain.JobStep{delayStep()}},
		},
		Macros: []domain.Macro{{Name: "loot"}},
		Hotkeys: []domain.HotkeyDefinition{
			{Name: "f5", Key: 0x3F, Active: true, Action: domain.ActionDefinition{JobID: "1", Command: domain.CommandToggle}},
		},
	}

	report := newTestChecker(onPath).Run(domain.Settings{DataDir: root}, defs)
	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	assertStatusByID(t, report, IDDataDir, domain.DiagnosticStatusPass)
	assertStatusByID(t, report, IDDefinitions, domain.DiagnosticStatusPass)
}

// TestCheckerMissingDataDirIsFixable validates the data directory check.
func TestCheckerMissingDataDirIsFixable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	checker := newTestChecker(onPath)

	report := checker.Run(domain.Settings{DataDir: dir}, Definitions{})
	item := findItem(t, report, IDDataDir)
	if item.Status != domain.DiagnosticStatusFail || !item.Fixable {
		t.Fatalf("item = %+v", item)
	}

	if err := checker.EnsureDataDir(dir); err != nil {
		t.Fatalf("EnsureDataDir() error = %v", err)
	}
	report = checker.Run(domain.Settings{DataDir: dir}, Definitions{})
	assertStatusByID(t, report, IDDataDir, domain.DiagnosticStatusPass)

	report = checker.Run(domain.Settings{}, Definitions{})
	assertStatusByID(t, report, IDDataDir, domain.DiagnosticStatusFail)
}

// TestCheckerFlagsHotkeyProblems validates orphan and duplicate detection.
func TestCheckerFlagsHotkeyProblems(t *testing.T) {
	action := func(job string) domain.ActionDefinition {
		return domain.ActionDefinition{JobName: job, Command: domain.CommandStart}
	}
	defs := Definitions{
		Jobs: []domain.Job{{ID: "1", Name: "farm"}},
		Hotkeys: []domain.HotkeyDefinition{
			{Name: "ghost", Key: 0x3F, Active: true, Action: action("deleted")},
			{Name: "a", Key: 0x40, Modifiers: domain.ModCtrl, Active: true, Action: action("farm")},
			{Name: "b", Key: 0x40, Modifiers: domain.ModCtrl, Active: true, Action: action("farm")},
			{Name: "c", Key: 0x40, Modifiers: domain.ModCtrl, Active: false, Action: action("farm")},
		},
	}

	report := newTestChecker(onPath).Run(domain.Settings{DataDir: t.TempDir()}, defs)
	orphan := findItem(t, report, IDHotkeyOrphan+":ghost")
	if orphan.Status != domain.DiagnosticStatusWarn || !orphan.Fixable || orphan.Subject != "ghost" {
		t.Fatalf("orphan item = %+v", orphan)
	}
	dup := findItem(t, report, IDHotkeyDuplicate+":a")
	if dup.Status != domain.DiagnosticStatusFail || strings.Contains(dup.Message, `"c"`) {
		t.Fatalf("duplicate item = %+v", dup)
	}
	if !report.HasFailures {
		t.Fatal("duplicates should fail the report")
	}
}

// TestCheckerFlagsJobReferences validates nested-job, macro, template and
// executable checks.
func TestCheckerFlagsJobReferences(t *testing.T) {
	defs := Definitions{
		Jobs: []domain.Job{
			{Name: "self", Steps: []domain.JobStep{runJob("self")}},
			{Name: "a", Steps: []domain.JobStep{runJob("b")}},
			{Name: "b", Steps: []domain.JobStep{runJob("a")}},
			{Name: "loop", Repeat: true, Steps: []domain.JobStep{delayStep()}},
			{Name: "outer", Steps: []domain.JobStep{runJob("loop"), runJob("nowhere")}},
			{Name: "media", Steps: []domain.JobStep{
				{Kind: domain.StepPlayMacro, Macro: &domain.MacroSettings{Macro: "unrecorded"}},
				{Kind: domain.StepFindImage, FindImage: &domain.FindImageSettings{Template: "/no/such.png", Threshold: 0.9}},
			}},
			{Name: "tool", Steps: []domain.JobStep{
				{Kind: domain.StepRunProcess, Process: &domain.ProcessSettings{Command: "missing-tool --x"}},
			}},
			{Name: "broken", Steps: []domain.JobStep{{Kind: domain.StepDelay}}},
		},
	}

	notFound := func(string) (string, error) { return "", errors.New("not found") }
	report := newTestChecker(notFound).Run(domain.Settings{DataDir: t.TempDir()}, defs)

	assertStatusByID(t, report, IDJobSelfReference+":self", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, IDJobCycle+":a", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, IDJobNestedTarget+":outer", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, IDJobMacro+":media", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, IDJobTemplate+":media", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, IDJobExecutable+":tool", domain.DiagnosticStatusWarn)
	assertStatusByID(t, report, IDJobInvalid+":broken", domain.DiagnosticStatusFail)

	cycle := findItem(t, report, IDJobCycle+":a")
	if !strings.Contains(cycle.Message, "a -> b -> a") {
		t.Fatalf("cycle message = %q", cycle.Message)
	}
}

func findItem(t *testing.T, report domain.DiagnosticReport, id string) domain.DiagnosticItem {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			return item
		}
	}
	t.Fatalf("diagnostic item not found: %s in %+v", id, report.Items)
	return domain.DiagnosticItem{}
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	item := findItem(t, report, id)
	if item.Status != want {
		t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
	}
}
