package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"

	"keypilot/internal/domain"
	"keypilot/internal/runner"
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// ProcessError is a failed run_process invocation.
type ProcessError struct {
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats process failures for logs and UI.
func (e *ProcessError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s exited with %d", e.CommandLog.Command, e.CommandLog.ExitCode)
	if stderr := strings.TrimSpace(e.CommandLog.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *ProcessError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (CommandLog, error)
	Start(dir, name string, args ...string) (int, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, dir, name string, args ...string) (CommandLog, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	log := CommandLog{
		Command: name,
		Args:    args,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if err != nil {
		log.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.ExitCode = exitErr.ExitCode()
		}
		return log, err
	}
	return log, nil
}

// Start launches a detached command and reaps it in the background.
func (r *execRunner) Start(dir, name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid, nil
}

// ProcessHandler launches external programs.
type ProcessHandler struct {
	runner   commandRunner
	lookPath func(file string) (string, error)
}

// NewProcessHandler returns a handler using os/exec.
func NewProcessHandler() *ProcessHandler {
	return &ProcessHandler{runner: &execRunner{}, lookPath: exec.LookPath}
}

// NewProcessHandlerForTests injects the command runner and path lookup.
func NewProcessHandlerForTests(r commandRunner, lookPath func(string) (string, error)) *ProcessHandler {
	return &ProcessHandler{runner: r, lookPath: lookPath}
}

// Handle runs the command, waiting for it when configured. A missing
// executable is a configuration error; a non-zero exit is a step fault.
func (h *ProcessHandler) Handle(ctx context.Context, step domain.JobStep, _ domain.Job, _ *runner.RunContext) (bool, error) {
	s := step.Process
	if s == nil {
		return false, runner.Configf("process settings missing")
	}
	name, args, err := SplitCommand(s.Command)
	if err != nil {
		return false, runner.Configf("%v", err)
	}
	path, err := h.lookPath(name)
	if err != nil {
		return false, runner.Configf("executable %q not found", name)
	}

	if !s.Wait {
		pid, err := h.runner.Start(s.Dir, path, args...)
		if err != nil {
			return false, fmt.Errorf("start %s: %w", name, err)
		}
		slog.InfoContext(ctx, "process started", "command", name, "pid", pid)
		return true, nil
	}

	runCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	log, err := h.runner.Run(runCtx, s.Dir, path, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, &ProcessError{CommandLog: log, Err: err}
	}
	slog.DebugContext(ctx, "process finished", "command", name, "exit_code", log.ExitCode)
	return true, nil
}

// SplitCommand parses a shell-quoted command line into program and arguments.
func SplitCommand(command string) (string, []string, error) {
	words, err := shellquote.Split(command)
	if err != nil {
		return "", nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(words) == 0 {
		return "", nil, fmt.Errorf("command is empty")
	}
	return words[0], words[1:], nil
}

// RequireProcessHandler gates the pass on a running process.
type RequireProcessHandler struct {
	processes Processes
}

// Handle aborts the pass when the process is not running, and halts the job
// too when HaltOnMiss is set.
func (h *RequireProcessHandler) Handle(ctx context.Context, step domain.JobStep, _ domain.Job, rc *runner.RunContext) (bool, error) {
	s := step.RequireProcess
	if s == nil || strings.TrimSpace(s.Name) == "" {
		return false, runner.Configf("require_process needs a process name")
	}
	if h.processes == nil {
		return false, runner.Configf("process listing is not available")
	}

	running, err := h.processes.ProcessRunning(ctx, s.Name)
	if err != nil {
		return false, err
	}
	if !running {
		slog.DebugContext(ctx, "required process not running", "process", s.Name, "halt", s.HaltOnMiss)
		if s.HaltOnMiss {
			rc.Halt()
		}
	}
	return running, nil
}
