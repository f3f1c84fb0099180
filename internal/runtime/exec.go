package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"agentplane/pkg/apperr"
)

const memorySampleInterval = 100 * time.Millisecond

// ExecIsolator runs agents as OS subprocesses. In sampled mode it also
// tracks the peak resident set via /proc and kills runs that exceed their
// memory limit.
type ExecIsolator struct {
	sampled bool
}

// NewBasicExec returns the subprocess backend for simple agents.
func NewBasicExec() *ExecIsolator {
	return &ExecIsolator{}
}

// NewEnhancedExec returns the subprocess backend for advanced agents,
// with memory sampling and limit enforcement.
func NewEnhancedExec() *ExecIsolator {
	return &ExecIsolator{sampled: true}
}

func (e *ExecIsolator) Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Command) == 0 {
		return nil, apperr.New(apperr.CodeValidation, "agent has no command")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), envList(spec)...)
	// Run the agent in its own process group so the timeout kills forked
	// children too, not just the direct child. WaitDelay unblocks Wait if a
	// grandchild keeps the stdout pipe open after the kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
	if len(spec.Input) > 0 {
		cmd.Stdin = bytes.NewReader(spec.Input)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.CodeExecutionRuntime, "agent process failed to start", err)
	}

	var limitExceeded bool
	var peakMB int
	sampleDone := make(chan struct{})
	sampleCtx, stopSampling := context.WithCancel(runCtx)
	defer stopSampling()
	if e.sampled {
		go func() {
			defer close(sampleDone)
			peakMB, limitExceeded = e.samplePeak(sampleCtx, cmd, spec.MemoryLimitMB)
		}()
	} else {
		close(sampleDone)
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	stopSampling()
	<-sampleDone

	result := &Result{
		Output:        normalizeOutput(stdout.Bytes()),
		ExecutionTime: elapsed,
		MemoryUsedMB:  peakMB,
	}

	if limitExceeded {
		return result, apperr.Newf(apperr.CodeResourceExhausted, "agent exceeded its %dMB memory limit", spec.MemoryLimitMB)
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return result, apperr.New(apperr.CodeExecutionTimeout, "execution timed out")
	}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, apperr.Newf(apperr.CodeExecutionRuntime, "agent exited with code %d: %s", result.ExitCode, tail(stderr.Bytes(), 512))
		}
		return result, apperr.Wrap(apperr.CodeExecutionRuntime, "agent process failed", waitErr)
	}

	return result, nil
}

// samplePeak polls the process resident set until the context is
// cancelled. When the limit is crossed the process is killed.
func (e *ExecIsolator) samplePeak(ctx context.Context, cmd *exec.Cmd, limitMB int) (int, bool) {
	ticker := time.NewTicker(memorySampleInterval)
	defer ticker.Stop()

	peakKB := 0
	for {
		select {
		case <-ctx.Done():
			return peakKB / 1024, false
		case <-ticker.C:
			if cmd.Process == nil {
				continue
			}
			rssKB, err := readVmRSS(cmd.Process.Pid)
			if err != nil {
				continue
			}
			if rssKB > peakKB {
				peakKB = rssKB
			}
			if limitMB > 0 && rssKB > limitMB*1024 {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				return peakKB / 1024, true
			}
		}
	}
}

// readVmRSS reads the resident set size in KB from /proc.
func readVmRSS(pid int) (int, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		return strconv.Atoi(fields[1])
	}
	return 0, fmt.Errorf("no VmRSS entry for pid %d", pid)
}

func envList(spec Spec) []string {
	env := make([]string, 0, len(spec.Env)+1)
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	if len(spec.Input) > 0 {
		env = append(env, "AGENT_INPUT="+string(spec.Input))
	}
	return env
}
