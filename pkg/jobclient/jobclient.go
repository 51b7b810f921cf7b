package jobclient

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Status mirrors a job's status values.
type Status string

const (
	StatusRunning Status = "running"
	StatusError   Status = "error"
	StatusOK      Status = "ok"
)

// Reserved exit codes. ExitUndefined is not
// itself emitted by any child; it is what watchdog classification should
// map any other non-zero code to.
const (
	ExitOK                       = 0
	ExitSIGKILL                  = -9
	ExitOOM                      = 137
	ExitValidationError          = 247
	ExitBlockedByDeletion        = 248
	ExitBlockedByStop            = 249
	ExitFenceNotFound            = 250
	ExitFenceReadinessTimeout    = 251
	ExitFenceMismatch            = 252
	ExitAlreadyRunning           = 253
	ExitIndexAttemptMismatch     = 254
	ExitConnectorExceptioned     = 255
	ExitUndefined                = -1 // sentinel for "non-zero, not in the registry"
)

// Spec describes the entrypoint and arguments used to spawn a child. Argv[0]
// is the binary; Env and Cwd follow the OCI runtime-spec Process shape so a
// deployment that also drives containers can reuse the same description
// type across both process kinds.
type Spec struct {
	Process specs.Process
}

// NewSpec builds a Spec for invoking "binary <args...>" with the current
// process's working directory and an explicit environment.
func NewSpec(binary string, args []string, env []string) Spec {
	return Spec{
		Process: specs.Process{
			Args: append([]string{binary}, args...),
			Env:  env,
		},
	}
}

// Job supervises one spawned child process. The zero value is not usable;
// create one with Spawn.
type Job struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	done     bool
	exitCode *int
	status   Status
	excerpt  string
}

// Spawn starts spec's entrypoint as a new child process in its own process
// group (so Cancel can kill the whole group, not just the direct child),
// and begins waiting on it in the background. It returns immediately once
// the child is launched; use IsAlive/Done/ExitCode to observe it.
func Spawn(ctx context.Context, spec Spec) (*Job, error) {
	if len(spec.Process.Args) == 0 {
		return nil, fmt.Errorf("jobclient: spec has no argv")
	}

	jobCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(jobCtx, spec.Process.Args[0], spec.Process.Args[1:]...)
	cmd.Env = spec.Process.Env
	if spec.Process.Cwd != "" {
		cmd.Dir = spec.Process.Cwd
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	j := &Job{cmd: cmd, cancel: cancel, status: StatusRunning}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("jobclient: spawn %s: %w", spec.Process.Args[0], err)
	}

	go j.wait()

	return j, nil
}

func (j *Job) wait() {
	err := j.cmd.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()

	j.done = true
	code := j.cmd.ProcessState.ExitCode()
	j.exitCode = &code

	if err != nil {
		if code == 0 {
			// Wait() can return an error (e.g. context cancellation racing
			// the child's own clean exit) even though the exit code looks
			// fine; surface it rather than silently reporting success.
			j.status = StatusError
			j.excerpt = truncate(err.Error(), 1024)
			return
		}
		j.status = StatusError
		j.excerpt = truncate(err.Error(), 1024)
		return
	}
	j.status = StatusOK
}

// PID returns the child's process ID, or 0 if it never started.
func (j *Job) PID() int {
	if j.cmd.Process == nil {
		return 0
	}
	return j.cmd.Process.Pid
}

// IsAlive reports whether the child has not yet exited.
func (j *Job) IsAlive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.done
}

// Done reports whether the child has exited and been reaped.
func (j *Job) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.done
}

// ExitCode returns the child's exit code once Done() is true. The second
// return value is false while the child is still running.
func (j *Job) ExitCode() (int, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.exitCode == nil {
		return 0, false
	}
	return *j.exitCode, true
}

// StatusValue returns the job's current status.
func (j *Job) StatusValue() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Exception returns the truncated exception text captured from a failed
// Wait(), or "" if the job exited cleanly or is still running.
func (j *Job) Exception() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.excerpt
}

// Cancel sends SIGKILL to the child's entire process group, the hard
// termination required for both activity-timeout and external
// termination-signal cancellation.
func (j *Job) Cancel() error {
	if j.cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(j.cmd.Process.Pid)
	if err != nil {
		// Process may already be gone; fall back to a direct kill attempt.
		return j.cmd.Process.Kill()
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// Release cancels the supervising context and frees the Job's resources.
// Safe to call multiple times.
func (j *Job) Release() {
	j.cancel()
}

// WaitSpawnAlive blocks until the job is observed alive (running) or exited,
// or grace elapses (a 15-second spawn-liveness grace).
// It returns false if neither happened before grace elapsed.
func WaitSpawnAlive(j *Job, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if j.PID() != 0 || j.Done() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return j.PID() != 0 || j.Done()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ClassifyExitCode maps a raw exit code to one of the registry's named
// outcomes, or ExitUndefined if it is not in the registry.
func ClassifyExitCode(code int) int {
	switch code {
	case ExitOK, ExitSIGKILL, ExitOOM, ExitValidationError, ExitBlockedByDeletion,
		ExitBlockedByStop, ExitFenceNotFound, ExitFenceReadinessTimeout, ExitFenceMismatch,
		ExitAlreadyRunning, ExitIndexAttemptMismatch, ExitConnectorExceptioned:
		return code
	default:
		return ExitUndefined
	}
}
