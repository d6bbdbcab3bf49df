// Package diagnostics checks the environment and the stored definitions for
// problems that would stop hotkeys or jobs from working.
package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"keypilot/internal/domain"
	"keypilot/internal/steps"
)

// Definitions is the set of stored definitions to check.
type Definitions struct {
	Hotkeys []domain.HotkeyDefinition
	Jobs    []domain.Job
	Macros  []domain.Macro
}

// Item id prefixes. Items about one definition append ":<name>".
const (
	IDDataDir          = "data_dir"
	IDDefinitions      = "definitions"
	IDHotkeyOrphan     = "hotkey_orphan"
	IDHotkeyDuplicate  = "hotkey_duplicate"
	IDJobInvalid       = "job_invalid"
	IDJobSelfReference = "job_self_reference"
	IDJobCycle         = "job_cycle"
	IDJobNestedTarget  = "job_nested_target"
	IDJobMacro         = "job_macro"
	IDJobTemplate      = "job_template"
	IDJobExecutable    = "job_executable"
)

// Checker validates the data directory and definitions.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	now        func() time.Time
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		now:        time.Now,
	}
}

// Run executes all checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings, defs Definitions) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{c.checkDataDir(settings.DataDir)}

	var defItems []domain.DiagnosticItem
	defItems = append(defItems, c.checkHotkeys(defs)...)
	defItems = append(defItems, c.checkJobs(defs)...)
	if len(defItems) == 0 {
		defItems = append(defItems, domain.DiagnosticItem{
			ID:      IDDefinitions,
			Name:    "Definitions",
			Status:  domain.DiagnosticStatusPass,
			Message: fmt.Sprintf("%d hotkeys, %d jobs and %d macros look consistent.", len(defs.Hotkeys), len(defs.Jobs), len(defs.Macros)),
		})
	}
	items = append(items, defItems...)

	hasFailures := lo.SomeBy(items, func(item domain.DiagnosticItem) bool {
		return item.Status == domain.DiagnosticStatusFail
	})

	return domain.DiagnosticReport{
		GeneratedAt: c.now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkDataDir validates data directory existence and write access.
func (c *Checker) checkDataDir(dataDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   IDDataDir,
		Name: "Data directory",
	}

	if strings.TrimSpace(dataDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Data directory is empty."
		item.Hint = "Set a data directory where hotkeys, jobs and macros can be stored."
		return item
	}

	if _, err := c.stat(dataDir); err != nil && errors.Is(err, fs.ErrNotExist) {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Data directory does not exist: %s", dataDir)
		item.Hint = "Use the fix action to create it."
		item.Fixable = true
		return item
	}

	tmpFile, err := c.createTemp(dataDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Data directory is not writable: %s", dataDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dataDir)
	return item
}

// checkHotkeys reports hotkeys whose target is gone and active duplicates.
func (c *Checker) checkHotkeys(defs Definitions) []domain.DiagnosticItem {
	var items []domain.DiagnosticItem

	byID := lo.KeyBy(defs.Jobs, func(j domain.Job) string { return j.ID })
	byName := lo.KeyBy(defs.Jobs, func(j domain.Job) string { return j.Name })

	for _, hk := range defs.Hotkeys {
		_, idOK := byID[hk.Action.JobID]
		_, nameOK := byName[hk.Action.JobName]
		if (hk.Action.JobID != "" && idOK) || (hk.Action.JobName != "" && nameOK) {
			continue
		}
		status := domain.DiagnosticStatusWarn
		if !hk.Active {
			status = domain.DiagnosticStatusPass
		}
		items = append(items, domain.DiagnosticItem{
			ID:      IDHotkeyOrphan + ":" + hk.Name,
			Name:    "Hotkey target",
			Subject: hk.Name,
			Status:  status,
			Message: fmt.Sprintf("Hotkey %q targets missing job %q.", hk.Name, hk.Action.Target()),
			Hint:    "Point the hotkey at an existing job, or use the fix action to disable it.",
			Fixable: hk.Active,
		})
	}

	active := lo.Filter(defs.Hotkeys, func(hk domain.HotkeyDefinition, _ int) bool { return hk.Active })
	groups := lo.GroupBy(active, func(hk domain.HotkeyDefinition) domain.Combo { return hk.Combo() })
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		names := lo.Map(group, func(hk domain.HotkeyDefinition, _ int) string { return hk.Name })
		sort.Strings(names)
		items = append(items, domain.DiagnosticItem{
			ID:      IDHotkeyDuplicate + ":" + names[0],
			Name:    "Hotkey combination",
			Subject: names[0],
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Hotkeys %s share one key combination; only %q will fire.", strings.Join(names, ", "), names[0]),
			Hint:    "Give each active hotkey its own combination.",
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// checkJobs validates steps and the references between jobs, macros,
// templates and executables.
func (c *Checker) checkJobs(defs Definitions) []domain.DiagnosticItem {
	var items []domain.DiagnosticItem

	jobs := lo.KeyBy(defs.Jobs, func(j domain.Job) string { return j.Name })
	macros := lo.KeyBy(defs.Macros, func(m domain.Macro) string { return m.Name })

	fail := func(id, name, job, msg, hint string) {
		items = append(items, domain.DiagnosticItem{
			ID: id + ":" + job, Name: name, Subject: job,
			Status: domain.DiagnosticStatusFail, Message: msg, Hint: hint,
		})
	}

	for _, job := range sortedJobs(defs.Jobs) {
		if err := job.Validate(); err != nil {
			fail(IDJobInvalid, "Job steps", job.Name, err.Error(), "Edit the job so every step has settings for its kind.")
			continue
		}

		for i, step := range job.Steps {
			switch step.Kind {
			case domain.StepRunJob:
				target := step.RunJob.Job
				if target == job.Name {
					fail(IDJobSelfReference, "Nested job", job.Name,
						fmt.Sprintf("Step %d of %q runs the job itself.", i, job.Name),
						"Remove the run_job step or point it at another job.")
					continue
				}
				nested, ok := jobs[target]
				if !ok {
					fail(IDJobNestedTarget, "Nested job", job.Name,
						fmt.Sprintf("Step %d of %q runs missing job %q.", i, job.Name, target),
						"Create the target job or remove the step.")
				} else if nested.Repeat {
					fail(IDJobNestedTarget, "Nested job", job.Name,
						fmt.Sprintf("Step %d of %q runs repeating job %q, which would never return.", i, job.Name, target),
						"Nest only non-repeating jobs.")
				}

			case domain.StepPlayMacro:
				if _, ok := macros[step.Macro.Macro]; !ok {
					fail(IDJobMacro, "Macro", job.Name,
						fmt.Sprintf("Step %d of %q plays missing macro %q.", i, job.Name, step.Macro.Macro),
						"Record the macro or remove the step.")
				}

			case domain.StepFindImage:
				if _, err := c.stat(step.FindImage.Template); err != nil {
					fail(IDJobTemplate, "Template image", job.Name,
						fmt.Sprintf("Step %d of %q uses missing template %s.", i, job.Name, step.FindImage.Template),
						"Save the template image or fix its path.")
				}

			case domain.StepRunProcess:
				name, _, err := steps.SplitCommand(step.Process.Command)
				if err != nil {
					fail(IDJobExecutable, "Executable", job.Name, err.Error(), "Fix the command line quoting.")
					continue
				}
				if _, err := c.lookPath(name); err != nil {
					items = append(items, domain.DiagnosticItem{
						ID: IDJobExecutable + ":" + job.Name, Name: "Executable", Subject: job.Name,
						Status:  domain.DiagnosticStatusWarn,
						Message: fmt.Sprintf("Step %d of %q runs %s, which is not on PATH.", i, job.Name, name),
						Hint:    "Install the program or use its absolute path.",
					})
				}
			}
		}
	}

	for _, cycle := range findCycles(jobs) {
		fail(IDJobCycle, "Nested job", cycle[0],
			fmt.Sprintf("Jobs call each other in a loop: %s.", strings.Join(cycle, " -> ")),
			"Break the loop by removing one of the run_job steps.")
	}
	return items
}

// findCycles returns the run_job loops spanning more than one job, found by a
// depth-first walk in name order.
func findCycles(jobs map[string]domain.Job) [][]string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(jobs))
	var stack []string
	var cycles [][]string

	var visit func(name string)
	visit = func(name string) {
		state[name] = visiting
		stack = append(stack, name)
		for _, step := range jobs[name].Steps {
			if step.Kind != domain.StepRunJob || step.RunJob == nil {
				continue
			}
			next := step.RunJob.Job
			if next == name {
				continue
			}
			if _, ok := jobs[next]; !ok {
				continue
			}
			switch state[next] {
			case unvisited:
				visit(next)
			case visiting:
				start := lo.IndexOf(stack, next)
				cycle := append([]string(nil), stack[start:]...)
				cycles = append(cycles, append(cycle, next))
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
	}

	names := lo.Keys(jobs)
	sort.Strings(names)
	for _, name := range names {
		if state[name] == unvisited {
			visit(name)
		}
	}
	return cycles
}

func sortedJobs(jobs []domain.Job) []domain.Job {
	out := append([]domain.Job(nil), jobs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		now:        time.Now,
	}
}

// EnsureDataDir creates the data directory.
func (c *Checker) EnsureDataDir(dataDir string) error {
	if strings.TrimSpace(dataDir) == "" {
		return fmt.Errorf("data directory is empty")
	}
	return c.mkdirAll(dataDir, 0o755)
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
