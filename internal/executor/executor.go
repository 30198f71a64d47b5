// Package executor implements the uniform, argv-based process executor of
// §4.4: spawn with no shell interpolation, capture stdio, and escalate from
// graceful to forceful termination on timeout. The two-phase kill is a
// direct generalization of the teacher's discovery.StdioWorker.Close(),
// which signals os.Interrupt and races a 2-second timer against cmd.Wait()
// before calling Process.Kill(); here the same shape is driven by a
// command timeout rather than a shutdown request, with a 5-second grace
// window per spec.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const gracePeriod = 5 * time.Second

// Options mirrors the {workingDirectory?, env?, timeoutMs?, ignoreExitCode?,
// remoteHost?} options bag from §4.4. RemoteHost routing to the SSH
// executor is handled by the caller (internal/tools), not here.
type Options struct {
	WorkingDirectory string
	Env              map[string]string
	TimeoutMs        int
	IgnoreExitCode   bool
}

// Result is the uniform execution result object from §3.
type Result struct {
	Success  bool
	Output   string
	ErrorMsg string
	ExitCode *int
	Signal   *string
	Content  string
	// ErrorCode is "ETIMEDOUT" when the command was stopped by its timeout,
	// and empty otherwise.
	ErrorCode string
}

func intPtr(v int) *int        { return &v }
func strPtr(v string) *string  { return &v }

// defaultTimeoutFor applies the §4.4 step 4 rule: dotnet* commands default
// to at least 10 minutes.
func defaultTimeoutFor(command string, configuredDefault, maxAllowed int) time.Duration {
	timeoutMs := configuredDefault
	if strings.HasPrefix(strings.ToLower(command), "dotnet") && timeoutMs < 10*60*1000 {
		timeoutMs = 10 * 60 * 1000
	}
	if maxAllowed > 0 && timeoutMs > maxAllowed {
		timeoutMs = maxAllowed
	}
	return time.Duration(timeoutMs) * time.Millisecond
}

// ExecuteBuild implements executeBuild from §4.4, for local (non-SSH)
// invocations. configuredDefaultMs/maxAllowedMs are the server's
// commandTimeoutMs/maxAllowedTimeoutMs, used when opts.TimeoutMs is zero or
// exceeds the hard cap.
func ExecuteBuild(ctx context.Context, command string, args []string, opts Options, configuredDefaultMs, maxAllowedMs int) Result {
	timeout := defaultTimeoutFor(command, configuredDefaultMs, maxAllowedMs)
	if opts.TimeoutMs > 0 {
		requested := time.Duration(opts.TimeoutMs) * time.Millisecond
		cap := time.Duration(maxAllowedMs) * time.Millisecond
		if maxAllowedMs > 0 && requested > cap {
			requested = cap
		}
		timeout = requested
	}

	cmd := exec.Command(command, args...)
	if opts.WorkingDirectory != "" {
		cmd.Dir = opts.WorkingDirectory
	}
	if len(opts.Env) > 0 {
		env := os.Environ()
		for k, v := range opts.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{
			Success:  false,
			ErrorMsg: fmt.Sprintf("Process error: %v", err),
			Content:  fmt.Sprintf("Process error: %v", err),
		}
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case err := <-waitDone:
		return buildResult(cmd, stdout.String(), stderr.String(), err, opts.IgnoreExitCode)

	case <-time.After(timeout):
		return killAfterTimeout(cmd, waitDone, stdout.String(), stderr.String(), timeout)

	case <-ctx.Done():
		return killAfterTimeout(cmd, waitDone, stdout.String(), stderr.String(), timeout)
	}
}

// killAfterTimeout is the two-phase escalation adapted from
// StdioWorker.Close(): signal graceful termination, wait up to gracePeriod,
// then force-kill.
func killAfterTimeout(cmd *exec.Cmd, waitDone chan error, partialStdout, partialStderr string, timeout time.Duration) Result {
	if cmd.Process != nil {
		cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-waitDone:
		// Exited gracefully just as the timeout fired.
	case <-time.After(gracePeriod):
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-waitDone
	}

	seconds := int(timeout.Seconds())
	msg := fmt.Sprintf("Command timed out after %d seconds", seconds)
	return Result{
		Success:   false,
		Output:    partialStdout,
		ErrorMsg:  msg,
		Content:   msg,
		ErrorCode: "ETIMEDOUT",
	}
}

func buildResult(cmd *exec.Cmd, stdout, stderr string, waitErr error, ignoreExitCode bool) Result {
	var exitCode *int
	var signal *string

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(interface{ Signaled() bool }); ok && status.Signaled() {
				if signaler, ok := exitErr.Sys().(interface{ Signal() interface{ String() string } }); ok {
					signal = strPtr(signaler.Signal().String())
				} else {
					signal = strPtr("killed")
				}
			} else {
				exitCode = intPtr(exitErr.ExitCode())
			}
		} else {
			exitCode = intPtr(-1)
		}
	} else {
		exitCode = intPtr(0)
	}

	content := composeContent(stdout, stderr)
	success := exitCode != nil && *exitCode == 0 && signal == nil

	if signal != nil {
		content = fmt.Sprintf("Process terminated by signal: %s\n%s", *signal, content)
		success = false
	} else if exitCode != nil && *exitCode != 0 && !ignoreExitCode {
		content = fmt.Sprintf("Process failed with code %d:\n%s", *exitCode, content)
	}

	return Result{
		Success:  success,
		Output:   stdout,
		ErrorMsg: stderr,
		ExitCode: exitCode,
		Signal:   signal,
		Content:  content,
	}
}

func composeContent(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	return stdout + "\n\nErrors:\n" + stderr
}
