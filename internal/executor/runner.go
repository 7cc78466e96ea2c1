package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/infrastructure/process"
)

const maxStderrBytes = 64 << 10

// LocalRunner runs the agent CLI as a child process in its own process group
// and reads its stream-json output line by line.
type LocalRunner struct {
	binary         string
	extraArgs      []string
	sampleInterval time.Duration
	log            *logger.Logger
}

func NewLocalRunner(cfg config.AgentConfig, log *logger.Logger) *LocalRunner {
	binary := cfg.Binary
	if binary == "" {
		binary = "claude"
	}
	return &LocalRunner{
		binary:         binary,
		extraArgs:      cfg.ExtraArgs,
		sampleInterval: 500 * time.Millisecond,
		log:            log,
	}
}

var _ ports.Runner = (*LocalRunner)(nil)

// BuildArgs is the agent command line for one invocation.
func BuildArgs(prompt string, capabilities, extra []string) []string {
	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if len(capabilities) > 0 {
		args = append(args, "--allowedTools", strings.Join(capabilities, ","))
	}
	return append(args, extra...)
}

func (r *LocalRunner) Run(ctx context.Context, inv ports.Invocation) (*domain.ExecutionResult, error) {
	start := time.Now()
	result := &domain.ExecutionResult{StartedAt: start.UTC(), ExitCode: -1}
	finish := func() {
		result.FinishedAt = time.Now().UTC()
		result.Duration = time.Since(start)
	}

	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.Command(r.binary, BuildArgs(inv.Prompt, inv.Capabilities, r.extraArgs)...)
	cmd.Dir = inv.WorkDir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if inv.Wrap != nil {
		if err := inv.Wrap(cmd); err != nil {
			finish()
			result.Error = err.Error()
			return result, &domain.ExecutionError{Op: "wrap", Err: err}
		}
	}

	// Cancelled while preparing: the agent must not start at all.
	if err := ctx.Err(); err != nil {
		finish()
		result.Killed = true
		result.Error = "run cancelled before launch"
		r.log.Infow("agent_launch_skipped", "task_id", inv.TaskID, "error", err)
		return result, &domain.ExecutionError{Op: "start", Err: err}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		finish()
		result.Error = err.Error()
		return result, &domain.ExecutionError{Op: "pipe", Err: err}
	}
	stderr := &tailBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		finish()
		result.Error = err.Error()
		r.log.Errorw("agent_start_failed", "task_id", inv.TaskID, "binary", r.binary, "error", err)
		return result, &domain.ExecutionError{Op: "start", Err: err}
	}
	pid := cmd.Process.Pid
	r.log.Infow("agent_started", "task_id", inv.TaskID, "pid", pid, "dir", inv.WorkDir)
	if inv.OnStart != nil {
		inv.OnStart(pid)
	}

	sampler := process.NewSampler(pid, r.sampleInterval)
	sampleCtx, stopSampling := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sampler.Run(sampleCtx)
	}()

	// Killing the process group is the only way to stop a run early.
	exited := make(chan struct{})
	go func() {
		defer wg.Done()
		select {
		case <-runCtx.Done():
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		case <-exited:
		}
	}()

	var events []Event
	var raw strings.Builder
	reader := bufio.NewReaderSize(stdout, 64<<10)
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			raw.WriteString(line)
			events = append(events, Classify(line)...)
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				r.log.Warnw("agent_stdout_read_failed", "task_id", inv.TaskID, "error", readErr)
			}
			break
		}
	}

	waitErr := cmd.Wait()
	close(exited)
	stopSampling()
	wg.Wait()

	agg := Aggregate(events)
	result.Text = agg.Text
	result.ToolCalls = agg.ToolCalls
	result.Logs = append(agg.Logs, splitLines(stderr.String())...)
	result.Usage = agg.Usage
	result.RawOutput = raw.String()

	usage := sampler.Usage()
	if st := cmd.ProcessState; st != nil {
		if cpu := (st.UserTime() + st.SystemTime()).Seconds(); cpu > usage.CPUSeconds {
			usage.CPUSeconds = cpu
		}
		result.ExitCode = st.ExitCode()
		if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.Killed = true
		}
	}
	result.Usage.CPUSeconds = usage.CPUSeconds
	result.Usage.PeakRSSBytes = usage.PeakRSSBytes
	finish()

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.TimedOut = true
		result.Killed = true
		result.Error = fmt.Sprintf("timed out after %s", inv.Timeout)
		r.log.Warnw("agent_timed_out", "task_id", inv.TaskID, "pid", pid, "timeout", inv.Timeout)
		return result, &domain.ExecutionError{Op: "run", TimedOut: true}
	case ctx.Err() != nil:
		result.Killed = true
		result.Error = "run cancelled"
		return result, &domain.ExecutionError{Op: "run", Err: ctx.Err()}
	}

	result.Success = waitErr == nil && result.ExitCode == 0 && agg.Error == ""
	if !result.Success {
		result.Error = failureMessage(result, agg.Error, stderr.String())
	}
	r.log.Infow("agent_exited",
		"task_id", inv.TaskID,
		"pid", pid,
		"exit_code", result.ExitCode,
		"duration", result.Duration,
		"tokens", result.Usage.TotalTokens(),
	)
	return result, nil
}

func failureMessage(res *domain.ExecutionResult, aggErr, stderr string) string {
	var msg string
	switch {
	case res.Killed:
		msg = "agent killed by signal"
	case res.ExitCode != 0:
		msg = fmt.Sprintf("agent exited with status %d", res.ExitCode)
	case aggErr != "":
		msg = aggErr
	default:
		msg = "agent failed"
	}
	if tail := lastLine(stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, "\r"); strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func lastLine(s string) string {
	lines := splitLines(s)
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
