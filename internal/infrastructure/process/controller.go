package process

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/shirou/gopsutil/v3/process"
)

// Controller signals process trees by pid. Any process can use it; the
// process need not be its child.
type Controller struct {
	log *logger.Logger
}

func NewController(log *logger.Logger) *Controller {
	return &Controller{log: log}
}

// Suspend stops the root first so it cannot spawn new children while the
// rest of the tree is being stopped.
func (c *Controller) Suspend(pid int) error {
	procs, err := tree(pid)
	if err != nil {
		return err
	}
	for _, p := range procs {
		if err := p.Suspend(); err != nil && !gone(err) {
			return fmt.Errorf("suspend %d: %w", p.Pid, err)
		}
	}
	c.log.Infow("process_suspend_ok", "pid", pid, "tree", len(procs))
	return nil
}

// Continue resumes children before the root.
func (c *Controller) Continue(pid int) error {
	procs, err := tree(pid)
	if err != nil {
		return err
	}
	for i := len(procs) - 1; i >= 0; i-- {
		if err := procs[i].Resume(); err != nil && !gone(err) {
			return fmt.Errorf("resume %d: %w", procs[i].Pid, err)
		}
	}
	c.log.Infow("process_resume_ok", "pid", pid, "tree", len(procs))
	return nil
}

// Terminate sends SIGTERM to the tree, waits up to grace, then SIGKILLs
// whatever is left. Stopped processes are continued so they can handle
// SIGTERM.
func (c *Controller) Terminate(ctx context.Context, pid int, grace time.Duration) error {
	procs, err := tree(pid)
	if err != nil {
		if errors.Is(err, ErrNoProcess) {
			return nil
		}
		return err
	}

	for _, p := range procs {
		_ = p.SendSignal(syscall.SIGTERM)
		_ = p.Resume()
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

wait:
	for {
		if !anyAlive(procs) {
			c.log.Infow("process_terminate_ok", "pid", pid, "forced", false)
			return nil
		}
		select {
		case <-ctx.Done():
			break wait
		case <-deadline.C:
			break wait
		case <-tick.C:
		}
	}

	for _, p := range procs {
		if err := p.Kill(); err != nil && !gone(err) {
			c.log.Warnw("process_kill_failed", "pid", p.Pid, "error", err)
		}
	}
	c.log.Infow("process_terminate_ok", "pid", pid, "forced", true)
	return nil
}

// Alive reports whether pid names a running (non-zombie) process.
func (c *Controller) Alive(pid int) bool {
	return alive(pid)
}

func (c *Controller) StartedAfter(pid int, t time.Time) bool {
	if !alive(pid) {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	created, err := p.CreateTime()
	if err != nil {
		return false
	}
	return !time.UnixMilli(created).Before(t)
}

// ErrNoProcess is returned when the root pid no longer exists.
var ErrNoProcess = errors.New("process: not found")

// tree returns the root and all descendants, root first.
func tree(pid int) ([]*process.Process, error) {
	if pid <= 0 || !alive(pid) {
		return nil, ErrNoProcess
	}
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, ErrNoProcess
	}
	out := []*process.Process{root}
	for i := 0; i < len(out); i++ {
		children, err := out[i].Children()
		if err != nil {
			// ErrorNoChildren or the process exited mid-walk.
			continue
		}
		out = append(out, children...)
	}
	return out, nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

func anyAlive(procs []*process.Process) bool {
	for _, p := range procs {
		if alive(int(p.Pid)) {
			return true
		}
	}
	return false
}

func gone(err error) bool {
	return errors.Is(err, syscall.ESRCH) || errors.Is(err, process.ErrorProcessNotRunning)
}
