package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/message"
)

// Default timeouts, matched to the values the retry controller falls back
// to when a RetryConfig leaves them unset.
const (
	DefaultRetryTimeoutSeconds     = 300
	DefaultOnFailureTimeoutSeconds = 600
)

// SuccessCheck is one post-turn verification step. Only shell checks are
// supported: run a command, require exit code 0.
type SuccessCheck struct {
	Command string
}

// RetryConfig governs the retry controller for one session.
type RetryConfig struct {
	MaxRetries              int
	Checks                  []SuccessCheck
	OnFailure               string
	TimeoutSeconds          int
	OnFailureTimeoutSeconds int
}

func (rc RetryConfig) retryTimeout() time.Duration {
	if rc.TimeoutSeconds > 0 {
		return time.Duration(rc.TimeoutSeconds) * time.Second
	}
	return DefaultRetryTimeoutSeconds * time.Second
}

func (rc RetryConfig) onFailureTimeout() time.Duration {
	if rc.OnFailureTimeoutSeconds > 0 {
		return time.Duration(rc.OnFailureTimeoutSeconds) * time.Second
	}
	return DefaultOnFailureTimeoutSeconds * time.Second
}

// RetryResult is the outcome of one handleRetryLogic evaluation.
type RetryResult string

const (
	RetrySkipped            RetryResult = "skipped"
	RetryMaxAttemptsReached RetryResult = "max_attempts_reached"
	RetrySuccessChecksPass  RetryResult = "success_checks_passed"
	RetryRetried            RetryResult = "retried"
)

// RetryController tracks retry attempts across turns of a single session
// and decides, after each turn, whether the post-turn success checks pass
// or the transcript should be rewound and the turn retried.
type RetryController struct {
	mu       sync.Mutex
	attempts int
	config   *RetryConfig
}

func NewRetryController(config *RetryConfig) *RetryController {
	return &RetryController{config: config}
}

func (rc *RetryController) ResetAttempts() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.attempts = 0
}

func (rc *RetryController) Attempts() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.attempts
}

func (rc *RetryController) incrementAttempts() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.attempts++
	return rc.attempts
}

// HandleRetryLogic runs the configured success checks; if they all pass,
// the turn stands. If any fails and attempts remain, it runs the
// on_failure command (if any), rewinds messages to initialMessages, bumps
// the attempt counter, and signals the loop to retry the turn from there.
func (rc *RetryController) HandleRetryLogic(ctx context.Context, messages *[]message.Message, initialMessages []message.Message) (RetryResult, error) {
	if rc.config == nil {
		return RetrySkipped, nil
	}

	ok, err := executeSuccessChecks(ctx, rc.config.Checks, *rc.config)
	if err != nil {
		return RetrySkipped, err
	}
	if ok {
		logger.InfoC("retry", "all success checks passed, no retry needed")
		return RetrySuccessChecksPass, nil
	}

	attempts := rc.Attempts()
	if attempts >= rc.config.MaxRetries {
		*messages = append(*messages, message.Assistant().WithText(fmt.Sprintf(
			"Maximum retry attempts (%d) exceeded. Unable to complete the task successfully.",
			rc.config.MaxRetries,
		)))
		logger.WarnC("retry", fmt.Sprintf("maximum retry attempts (%d) exceeded", rc.config.MaxRetries))
		return RetryMaxAttemptsReached, nil
	}

	if rc.config.OnFailure != "" {
		logger.InfoC("retry", "executing on_failure command: "+rc.config.OnFailure)
		if err := executeOnFailureCommand(ctx, rc.config.OnFailure, *rc.config); err != nil {
			return RetrySkipped, err
		}
	}

	reset := make([]message.Message, len(initialMessages))
	copy(reset, initialMessages)
	*messages = reset
	logger.InfoC("retry", "reset message history to initial state for retry")

	newAttempts := rc.incrementAttempts()
	logger.InfoC("retry", fmt.Sprintf("incrementing retry attempts to %d", newAttempts))

	return RetryRetried, nil
}

func executeSuccessChecks(ctx context.Context, checks []SuccessCheck, config RetryConfig) (bool, error) {
	timeout := config.retryTimeout()
	for _, check := range checks {
		out, err := runShellCommand(ctx, check.Command, timeout)
		if err != nil {
			return false, err
		}
		if out.exitCode != 0 {
			logger.WarnC("retry", fmt.Sprintf(
				"success check failed: command %q exited with status %d, stderr: %s",
				check.Command, out.exitCode, out.stderr,
			))
			return false, nil
		}
		logger.InfoC("retry", fmt.Sprintf("success check passed: command %q completed successfully", check.Command))
	}
	return true, nil
}

func executeOnFailureCommand(ctx context.Context, command string, config RetryConfig) error {
	timeout := config.onFailureTimeout()
	out, err := runShellCommand(ctx, command, timeout)
	if err != nil {
		return fmt.Errorf("on_failure command timed out after %s: %s: %w", timeout, command, err)
	}
	if out.exitCode != 0 {
		return fmt.Errorf("on_failure command failed: command %q exited with status %d, stderr: %s",
			command, out.exitCode, out.stderr)
	}
	logger.InfoC("retry", "on_failure command completed successfully: "+command)
	return nil
}

type shellOutput struct {
	exitCode int
	stdout   string
	stderr   string
}

func runShellCommand(ctx context.Context, command string, timeout time.Duration) (shellOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return shellOutput{}, fmt.Errorf("shell command timed out after %s: %s", timeout, command)
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return shellOutput{}, err
		}
	}

	return shellOutput{exitCode: exitCode, stdout: stdout.String(), stderr: stderr.String()}, nil
}
