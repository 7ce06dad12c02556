package harness

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// CommandResult represents the result of executing an exporter subprocess.
type CommandResult struct {
	Command    []string
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int
	Error      error
}

// Success returns true if the command succeeded (exit code 0).
func (r *CommandResult) Success() bool {
	return r.ExitCode == 0 && r.Error == nil
}

// Failed returns true if the command failed.
func (r *CommandResult) Failed() bool {
	return !r.Success()
}

// runCommand executes a subprocess with the given arguments and environment,
// capturing stdout and stderr.
func runCommand(ctx context.Context, command []string, workDir string, env map[string]string, timeoutSec int) *CommandResult {
	if len(command) == 0 {
		return &CommandResult{ExitCode: -1, Error: fmt.Errorf("empty command")}
	}

	startTime := time.Now()

	if timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), envMapToSlice(env)...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	durationMs := int(time.Since(startTime).Milliseconds())

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			// Non-exit error (e.g. command not found, timeout).
			exitCode = -1
		}
	}

	return &CommandResult{
		Command:    append([]string(nil), command...),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Error:      err,
	}
}

// envMapToSlice converts a map of environment variables to a slice of
// "KEY=VALUE" strings.
func envMapToSlice(env map[string]string) []string {
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}
