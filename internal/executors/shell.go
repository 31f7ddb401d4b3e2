// internal/executors/shell.go
package executors

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/internal/toolcall"
)

// maxOutputBytes caps captured stdout/stderr per stream.
const maxOutputBytes = 64 * 1024

// ShellExecutor runs commands through the system shell with a per-command
// timeout, working inside the workspace root.
type ShellExecutor struct {
	logger  *zap.Logger
	root    string
	timeout time.Duration
	table   toolcall.MethodTable
}

// NewShellExecutor builds a shell executor with the configured command
// timeout.
func NewShellExecutor(logger *zap.Logger, root string, timeout time.Duration) *ShellExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	e := &ShellExecutor{
		logger:  logger.Named("shell_executor"),
		root:    root,
		timeout: timeout,
	}
	e.table = toolcall.MethodTable{
		"exec": {
			Name:        "exec",
			Description: "Run a shell command in the workspace and capture its output.",
			Args:        []toolcall.ArgSpec{{Name: "command", Required: true, Description: "Command line passed to sh -c."}},
			Handler:     e.exec,
		},
	}
	return e
}

func (e *ShellExecutor) Domain() string                { return "shell" }
func (e *ShellExecutor) Methods() toolcall.MethodTable { return e.table }

func (e *ShellExecutor) exec(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return nil, err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = e.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		exitCode = exitErr.ExitCode()
	default:
		// The command never ran (not found, killed by deadline, ...).
		if cmdCtx.Err() != nil {
			return nil, cmdCtx.Err()
		}
		return nil, runErr
	}

	e.logger.Debug("Shell command finished.",
		zap.String("command", command),
		zap.Int("exit_code", exitCode),
		zap.Duration("elapsed", elapsed))

	return map[string]interface{}{
		"exit_code":   exitCode,
		"stdout":      truncate(stdout.Bytes()),
		"stderr":      truncate(stderr.Bytes()),
		"duration_ms": elapsed.Milliseconds(),
	}, nil
}

func truncate(b []byte) string {
	if len(b) > maxOutputBytes {
		return string(b[:maxOutputBytes]) + "\n[output truncated]"
	}
	return string(b)
}
